// Package runner executes the admitted-job path: audit the page, persist the
// raw artifact, and load a structured row into the analytical store.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
	"github.com/beaconaudit/beacon/internal/metrics"
	"github.com/beaconaudit/beacon/internal/ratelimit"
)

// Config controls Runner behavior.
type Config struct {
	ContentType     string
	ArtifactPrefix  string
	DefaultDevice   audit.Device
	AuditTimeout    time.Duration
	BlockedPatterns []string
}

// Runner drives external collaborators for one admitted job at a time.
type Runner struct {
	auditor audit.Auditor
	reports audit.ReportStore
	results audit.ResultStore
	limiter *ratelimit.Limiter
	retry   audit.RetryPolicy
	clock   audit.Clock
	ids     audit.IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Runner.
func New(
	auditor audit.Auditor,
	reports audit.ReportStore,
	results audit.ResultStore,
	limiter *ratelimit.Limiter,
	retry audit.RetryPolicy,
	clock audit.Clock,
	ids audit.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.DefaultDevice == audit.DeviceUnspecified {
		cfg.DefaultDevice = audit.DeviceMobile
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 90 * time.Second
	}
	return &Runner{
		auditor: auditor,
		reports: reports,
		results: results,
		limiter: limiter,
		retry:   retry,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run audits the target and persists the results. Every step must succeed
// before the next one starts; any failure is returned wrapped.
func (r *Runner) Run(ctx context.Context, job audit.Job, target audit.Target) error {
	device := job.Device
	if device == audit.DeviceUnspecified {
		device = r.cfg.DefaultDevice
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, target.URL); err != nil {
			return err
		}
	}

	req := audit.Request{
		URL:    target.URL,
		Device: device,
	}
	if job.Mode == audit.ModeBlocked {
		req.BlockedPatterns = r.cfg.BlockedPatterns
	}

	report, err := r.auditWithRetry(ctx, job, req)
	if err != nil {
		metrics.ObserveAudit("failed", string(device), report.Duration)
		return fmt.Errorf("audit %s: %w", target.URL, err)
	}
	metrics.ObserveAudit("succeeded", string(device), report.Duration)

	auditedAt := r.clock.Now()
	uri, err := r.persistArtifact(ctx, job, auditedAt, report)
	if err != nil {
		return err
	}

	runID, err := r.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	rec := audit.RunRecord{
		RunID:     runID,
		BatchID:   job.BatchID,
		Identity:  job.Identity,
		URL:       target.URL,
		Mode:      job.Mode,
		Device:    device,
		Status:    report.StatusCode,
		Metrics:   report.Metrics,
		ReportURI: uri,
		AuditedAt: auditedAt,
	}
	if err := r.results.RecordRun(ctx, rec); err != nil {
		return fmt.Errorf("record run %s: %w", runID, err)
	}

	r.logger.Info("audit run persisted",
		zap.String("run_id", runID),
		zap.String("identity", job.Identity),
		zap.String("mode", string(job.Mode)),
		zap.String("device", string(device)),
		zap.String("batch_id", job.BatchID),
		zap.String("report_uri", uri),
		zap.Int("status", report.StatusCode),
	)
	return nil
}

func (r *Runner) auditWithRetry(ctx context.Context, job audit.Job, req audit.Request) (audit.Report, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		auditCtx, cancel := context.WithTimeout(ctx, r.cfg.AuditTimeout)
		report, err := r.auditor.Audit(auditCtx, req)
		cancel()
		if err == nil {
			return report, nil
		}
		lastErr = err
		if r.retry == nil || !r.retry.ShouldRetry(err, attempt+1) {
			return audit.Report{}, lastErr
		}
		backoff := r.retry.Backoff(attempt)
		r.logger.Warn("audit attempt failed, retrying",
			zap.String("identity", job.Identity),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return audit.Report{}, fmt.Errorf("retry wait canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (r *Runner) persistArtifact(ctx context.Context, job audit.Job, auditedAt time.Time, report audit.Report) (string, error) {
	path := fmt.Sprintf("%s/%d.json", job.Identity, auditedAt.UnixMilli())
	if prefix := strings.Trim(r.cfg.ArtifactPrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := r.reports.PutObject(ctx, path, r.cfg.ContentType, report.RawJSON)
	if err != nil {
		return "", fmt.Errorf("put report artifact: %w", err)
	}
	return uri, nil
}
