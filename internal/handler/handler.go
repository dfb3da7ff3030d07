// Package handler implements the trigger control flow: decode an incoming
// dispatch payload, route it, consult the debounce gate, and execute the
// audit for admitted jobs.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
	"github.com/beaconaudit/beacon/internal/gate"
	"github.com/beaconaudit/beacon/internal/message"
	"github.com/beaconaudit/beacon/internal/metrics"
)

// Kind is the terminal outcome class of one trigger invocation.
type Kind string

// Trigger outcomes.
const (
	KindDispatched Kind = "dispatched"
	KindAdmitted   Kind = "admitted"
	KindRejected   Kind = "rejected"
)

// Reason qualifies a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonMalformedMessage Reason = "malformed_message"
	ReasonUnknownIdentity  Reason = "unknown_identity"
	ReasonDebounced        Reason = "debounced"
	reasonNone             Reason = "none"
)

// Outcome reports how one trigger invocation terminated.
type Outcome struct {
	Kind    Kind
	Reason  Reason
	Delta   time.Duration
	BatchID string
}

// Runner executes the admitted-job path: audit, persist, load.
type Runner interface {
	Run(ctx context.Context, job audit.Job, target audit.Target) error
}

// Fanout expands the sentinel identity into per-target messages.
type Fanout interface {
	DispatchAll(ctx context.Context, targets []audit.Target) (string, error)
}

// Gate admits or rejects a job identity at a point in time.
type Gate interface {
	Check(ctx context.Context, identity string, now time.Time) (gate.Result, error)
	Cooldown() time.Duration
}

// Handler routes decoded dispatch messages.
type Handler struct {
	gate    Gate
	fanout  Fanout
	runner  Runner
	targets audit.TargetSource
	clock   audit.Clock
	logger  *zap.Logger
}

// New constructs a Handler.
func New(
	g Gate,
	fanout Fanout,
	runner Runner,
	targets audit.TargetSource,
	clock audit.Clock,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:    g,
		fanout:  fanout,
		runner:  runner,
		targets: targets,
		clock:   clock,
		logger:  logger,
	}
}

// Handle processes one delivered payload.
//
// Rejections return a nil error: malformed payloads and unknown identities
// would fail identically on redelivery, and debounced jobs are an expected
// flood condition. A non-nil error means the caller should let the delivery
// mechanism redeliver; admission has already refreshed the debounce clock,
// so a redelivered admitted job is absorbed by the gate.
func (h *Handler) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	job, err := message.Decode(payload)
	if err != nil {
		if errors.Is(err, message.ErrMalformed) {
			h.logger.Warn("dropping malformed dispatch payload", zap.Error(err))
			metrics.IncOutcome(string(KindRejected), string(ReasonMalformedMessage))
			return Outcome{Kind: KindRejected, Reason: ReasonMalformedMessage}, nil
		}
		return Outcome{}, fmt.Errorf("decode dispatch payload: %w", err)
	}

	if job.Identity == audit.SentinelAll {
		return h.handleFanout(ctx)
	}
	return h.handleSingle(ctx, job)
}

func (h *Handler) handleFanout(ctx context.Context) (Outcome, error) {
	targets, err := h.targets.Targets(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load target catalog: %w", err)
	}
	batchID, err := h.fanout.DispatchAll(ctx, targets)
	if err != nil {
		return Outcome{Kind: KindDispatched, BatchID: batchID}, fmt.Errorf("fan-out dispatch: %w", err)
	}
	metrics.IncOutcome(string(KindDispatched), string(reasonNone))
	return Outcome{Kind: KindDispatched, BatchID: batchID}, nil
}

func (h *Handler) handleSingle(ctx context.Context, job audit.Job) (Outcome, error) {
	fields := []zap.Field{
		zap.String("identity", job.Identity),
		zap.String("mode", string(job.Mode)),
		zap.String("device", string(job.Device)),
		zap.String("batch_id", job.BatchID),
	}

	target, ok, err := h.resolveTarget(ctx, job.Identity)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		// Configuration/data mismatch, not a transient fault.
		h.logger.Error("identity not in target catalog", fields...)
		metrics.IncOutcome(string(KindRejected), string(ReasonUnknownIdentity))
		return Outcome{Kind: KindRejected, Reason: ReasonUnknownIdentity, BatchID: job.BatchID}, nil
	}

	res, err := h.gate.Check(ctx, job.Identity, h.clock.Now())
	if err != nil {
		return Outcome{}, fmt.Errorf("debounce gate for %q: %w", job.Identity, err)
	}
	if res.Active {
		h.logger.Info("debounced",
			append(fields,
				zap.Duration("elapsed", res.Delta),
				zap.Duration("cooldown", h.gate.Cooldown()),
			)...,
		)
		metrics.IncOutcome(string(KindRejected), string(ReasonDebounced))
		metrics.IncDebounceRejection()
		return Outcome{Kind: KindRejected, Reason: ReasonDebounced, Delta: res.Delta, BatchID: job.BatchID}, nil
	}

	outcome := Outcome{Kind: KindAdmitted, BatchID: job.BatchID}
	if err := h.runner.Run(ctx, job, target); err != nil {
		h.logger.Error("admitted run failed", append(fields, zap.Error(err))...)
		metrics.IncOutcome(string(KindAdmitted), "failed")
		return outcome, fmt.Errorf("run %q: %w", job.Identity, err)
	}
	h.logger.Info("admitted run completed", fields...)
	metrics.IncOutcome(string(KindAdmitted), string(reasonNone))
	return outcome, nil
}

func (h *Handler) resolveTarget(ctx context.Context, identity string) (audit.Target, bool, error) {
	targets, err := h.targets.Targets(ctx)
	if err != nil {
		return audit.Target{}, false, fmt.Errorf("load target catalog: %w", err)
	}
	for _, target := range targets {
		if target.Identity == identity {
			return target, true, nil
		}
	}
	return audit.Target{}, false, nil
}
