package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
)

type countingAuditor struct {
	mu       sync.Mutex
	attempts int
	fails    int
	lastReq  audit.Request
}

func (a *countingAuditor) Audit(_ context.Context, req audit.Request) (audit.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	a.lastReq = req
	if a.attempts <= a.fails {
		return audit.Report{}, errors.New("transient browser error")
	}
	return audit.Report{
		URL:        req.URL,
		StatusCode: 200,
		Metrics:    audit.PageMetrics{LoadEventMillis: 1200, Score: 87},
		Duration:   time.Second,
		RawJSON:    []byte(`{"ok":true}`),
	}, nil
}

type fakeReports struct {
	mu       sync.Mutex
	lastPath string
	err      error
}

func (s *fakeReports) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.lastPath = path
	return "memory://" + path, nil
}

type fakeResults struct {
	mu   sync.Mutex
	recs []audit.RunRecord
	err  error
}

func (s *fakeResults) RecordRun(_ context.Context, rec audit.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type immediateRetry struct{ max int }

func (p immediateRetry) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.max
}

func (p immediateRetry) Backoff(int) time.Duration { return 0 }

func newTestRunner(a audit.Auditor, reports *fakeReports, results *fakeResults, cfg Config) *Runner {
	return New(
		a,
		reports,
		results,
		nil,
		immediateRetry{max: 2},
		fixedClock{now: time.UnixMilli(1_700_000_000_000)},
		fixedIDs{id: "run-1"},
		cfg,
		zap.NewNop(),
	)
}

func TestRun_SuccessRecordsRun(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{}
	reports := &fakeReports{}
	results := &fakeResults{}
	r := newTestRunner(auditor, reports, results, Config{ArtifactPrefix: "reports"})

	job := audit.Job{Identity: "home", Mode: audit.ModeIncluded, Device: audit.DeviceDesktop, BatchID: "b1"}
	err := r.Run(context.Background(), job, audit.Target{Identity: "home", URL: "https://example.com"})
	require.NoError(t, err)

	require.Equal(t, "reports/home/1700000000000.json", reports.lastPath)
	require.Len(t, results.recs, 1)
	rec := results.recs[0]
	require.Equal(t, "run-1", rec.RunID)
	require.Equal(t, "b1", rec.BatchID)
	require.Equal(t, audit.DeviceDesktop, rec.Device)
	require.Equal(t, "memory://reports/home/1700000000000.json", rec.ReportURI)
	require.Equal(t, 200, rec.Status)
}

func TestRun_RetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{fails: 1}
	r := newTestRunner(auditor, &fakeReports{}, &fakeResults{}, Config{})

	err := r.Run(context.Background(), audit.Job{Identity: "home"}, audit.Target{Identity: "home", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, 2, auditor.attempts)
}

func TestRun_ExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{fails: 10}
	results := &fakeResults{}
	r := newTestRunner(auditor, &fakeReports{}, results, Config{})

	err := r.Run(context.Background(), audit.Job{Identity: "home"}, audit.Target{Identity: "home", URL: "https://example.com"})
	require.Error(t, err)
	require.Equal(t, 2, auditor.attempts)
	require.Empty(t, results.recs)
}

func TestRun_DefaultDeviceSubstituted(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{}
	results := &fakeResults{}
	r := newTestRunner(auditor, &fakeReports{}, results, Config{DefaultDevice: audit.DeviceMobile})

	job := audit.Job{Identity: "home", Mode: audit.ModeIncluded, Device: audit.DeviceUnspecified}
	err := r.Run(context.Background(), job, audit.Target{Identity: "home", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, audit.DeviceMobile, auditor.lastReq.Device)
	require.Equal(t, audit.DeviceMobile, results.recs[0].Device)
}

func TestRun_BlockedModePassesPatterns(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{}
	patterns := []string{"*.doubleclick.net", "tracker.example.org"}
	r := newTestRunner(auditor, &fakeReports{}, &fakeResults{}, Config{BlockedPatterns: patterns})

	job := audit.Job{Identity: "home", Mode: audit.ModeBlocked, Device: audit.DeviceMobile}
	err := r.Run(context.Background(), job, audit.Target{Identity: "home", URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, patterns, auditor.lastReq.BlockedPatterns)

	// Included mode must not strip anything.
	job.Mode = audit.ModeIncluded
	require.NoError(t, r.Run(context.Background(), job, audit.Target{Identity: "home", URL: "https://example.com"}))
	require.Empty(t, auditor.lastReq.BlockedPatterns)
}

func TestRun_ArtifactFailureStopsBeforeRecord(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{}
	reports := &fakeReports{err: errors.New("bucket unreachable")}
	results := &fakeResults{}
	r := newTestRunner(auditor, reports, results, Config{})

	err := r.Run(context.Background(), audit.Job{Identity: "home"}, audit.Target{Identity: "home", URL: "https://example.com"})
	require.Error(t, err)
	require.Empty(t, results.recs)
}

func TestRun_RecordFailureSurfaces(t *testing.T) {
	t.Parallel()

	auditor := &countingAuditor{}
	results := &fakeResults{err: errors.New("connection refused")}
	r := newTestRunner(auditor, &fakeReports{}, results, Config{})

	err := r.Run(context.Background(), audit.Job{Identity: "home"}, audit.Target{Identity: "home", URL: "https://example.com"})
	require.Error(t, err)
}
