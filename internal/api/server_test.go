package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
	"github.com/beaconaudit/beacon/internal/config"
	"github.com/beaconaudit/beacon/internal/handler"
	"github.com/beaconaudit/beacon/internal/message"
)

type fakeTrigger struct {
	outcome  handler.Outcome
	err      error
	payloads [][]byte
}

func (f *fakeTrigger) Handle(_ context.Context, payload []byte) (handler.Outcome, error) {
	f.payloads = append(f.payloads, payload)
	return f.outcome, f.err
}

type fakeSink struct {
	payloads [][]byte
	err      error
}

func (f *fakeSink) Publish(_ context.Context, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Server.Port = 8080
	return cfg
}

func pushBody(t *testing.T, payload []byte) *bytes.Buffer {
	t.Helper()
	env := map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(payload),
			"messageId": "m-1",
		},
		"subscription": "projects/demo/subscriptions/audit-jobs-sub",
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestPushReturnsOutcome(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{outcome: handler.Outcome{Kind: handler.KindAdmitted, BatchID: "b-1"}}
	srv := NewServer(trigger, &fakeSink{}, testConfig(), zap.NewNop())

	payload, err := message.Encode(audit.Job{Identity: "home", BatchID: "b-1"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/push", pushBody(t, payload))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, trigger.payloads, 1)
	require.Equal(t, payload, trigger.payloads[0])

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "admitted", resp["kind"])
	require.Equal(t, "b-1", resp["batch_id"])
}

func TestPushRejectionIsStillAcked(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{outcome: handler.Outcome{Kind: handler.KindRejected, Reason: handler.ReasonDebounced}}
	srv := NewServer(trigger, &fakeSink{}, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/push", pushBody(t, []byte("home|included||b")))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPushTriggerErrorReturns500(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{err: errors.New("gate write failed")}
	srv := NewServer(trigger, &fakeSink{}, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/push", pushBody(t, []byte("home|included||b")))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPushInvalidEnvelope(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeTrigger{}, &fakeSink{}, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewBufferString("{not json"))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchPublishesSentinel(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	srv := NewServer(&fakeTrigger{}, sink, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.payloads, 1)

	job, err := message.Decode(sink.payloads[0])
	require.NoError(t, err)
	require.Equal(t, audit.SentinelAll, job.Identity)
}

func TestDispatchPublishFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: errors.New("broker down")}
	srv := NewServer(&fakeTrigger{}, sink, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := NewServer(&fakeTrigger{}, &fakeSink{}, cfg, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil)
	req.Header.Set("X-API-Key", "secret")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeTrigger{}, &fakeSink{}, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
