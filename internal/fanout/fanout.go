// Package fanout expands one "run everything" request into per-target
// dispatch messages.
package fanout

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beaconaudit/beacon/internal/audit"
	"github.com/beaconaudit/beacon/internal/message"
	"github.com/beaconaudit/beacon/internal/metrics"
)

// Dispatcher produces the cross-product of targets, modes, and devices under
// one shared batch id and hands every encoded message to the sink.
type Dispatcher struct {
	sink          audit.Sink
	ids           audit.IDGenerator
	blockedFanout bool
	logger        *zap.Logger
}

// New creates a Dispatcher. blockedFanout toggles the two Blocked-mode
// variants per target and is set iff a third-party blocklist is configured.
func New(sink audit.Sink, ids audit.IDGenerator, blockedFanout bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:          sink,
		ids:           ids,
		blockedFanout: blockedFanout,
		logger:        logger,
	}
}

// DispatchAll emits one message per (target, mode, device) combination and
// returns the batch id shared by all of them. Sends are issued concurrently
// and joined; the first sink error is returned, but a failing message does
// not stop delivery attempts for the others.
func (d *Dispatcher) DispatchAll(ctx context.Context, targets []audit.Target) (string, error) {
	batchID, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}

	jobs := d.buildJobs(targets, batchID)

	payloads := make([][]byte, 0, len(jobs))
	for _, job := range jobs {
		payload, err := message.Encode(job)
		if err != nil {
			return "", fmt.Errorf("encode dispatch for %q: %w", job.Identity, err)
		}
		payloads = append(payloads, payload)
	}

	// A plain group, not errgroup.WithContext: one failing message must not
	// cancel the in-flight sends for the other identities.
	var g errgroup.Group
	for i := range payloads {
		payload := payloads[i]
		job := jobs[i]
		g.Go(func() error {
			if err := d.sink.Publish(ctx, payload); err != nil {
				d.logger.Error("dispatch publish failed",
					zap.String("identity", job.Identity),
					zap.String("mode", string(job.Mode)),
					zap.String("device", string(job.Device)),
					zap.String("batch_id", batchID),
					zap.Error(err),
				)
				return fmt.Errorf("publish dispatch for %q: %w", job.Identity, err)
			}
			metrics.IncFanoutMessage()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return batchID, err
	}

	d.logger.Info("fan-out dispatched",
		zap.String("batch_id", batchID),
		zap.Int("targets", len(targets)),
		zap.Int("messages", len(jobs)),
	)
	return batchID, nil
}

// buildJobs enumerates combinations deterministically: targets in input
// order, Included before Blocked, Mobile before Desktop.
func (d *Dispatcher) buildJobs(targets []audit.Target, batchID string) []audit.Job {
	modes := []audit.Mode{audit.ModeIncluded}
	if d.blockedFanout {
		modes = append(modes, audit.ModeBlocked)
	}
	devices := []audit.Device{audit.DeviceMobile, audit.DeviceDesktop}

	jobs := make([]audit.Job, 0, len(targets)*len(modes)*len(devices))
	for _, target := range targets {
		for _, mode := range modes {
			for _, device := range devices {
				jobs = append(jobs, audit.Job{
					Identity: target.Identity,
					Mode:     mode,
					Device:   device,
					BatchID:  batchID,
				})
			}
		}
	}
	return jobs
}
