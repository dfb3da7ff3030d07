// Package message implements the flat dispatch wire format.
//
// A dispatch message is a single delimited token stream in canonical order:
// identity, mode, device, batch id. Mode and device are optional on the wire;
// an absent mode decodes as audit.ModeIncluded and an absent device decodes
// as unspecified, leaving the default to the runner.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beaconaudit/beacon/internal/audit"
)

// separator is private to the wire format and must not appear in any field.
const separator = "|"

// maxTokens is identity, mode, device, batch.
const maxTokens = 4

// ErrMalformed marks payloads that can never decode. Callers drop these
// without retry since redelivery would repeat the same payload.
var ErrMalformed = errors.New("malformed dispatch message")

// Encode serializes a job into its wire form. Fields containing the
// separator are rejected here so Decode can stay a plain split.
func Encode(job audit.Job) ([]byte, error) {
	if job.Identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrMalformed)
	}
	if strings.Contains(job.Identity, separator) {
		return nil, fmt.Errorf("%w: identity %q contains separator", ErrMalformed, job.Identity)
	}
	if strings.Contains(job.BatchID, separator) {
		return nil, fmt.Errorf("%w: batch id %q contains separator", ErrMalformed, job.BatchID)
	}
	mode := job.Mode
	if mode == "" {
		mode = audit.ModeIncluded
	}
	tokens := []string{job.Identity, string(mode), string(job.Device), job.BatchID}
	return []byte(strings.Join(tokens, separator)), nil
}

// Decode recovers a job from its wire form. It is total: any payload it
// cannot interpret yields ErrMalformed rather than a panic or a partial job.
func Decode(payload []byte) (audit.Job, error) {
	if len(payload) == 0 {
		return audit.Job{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	tokens := strings.Split(string(payload), separator)
	if len(tokens) > maxTokens {
		return audit.Job{}, fmt.Errorf("%w: %d tokens", ErrMalformed, len(tokens))
	}

	job := audit.Job{
		Identity: tokens[0],
		Mode:     audit.ModeIncluded,
	}
	if job.Identity == "" {
		return audit.Job{}, fmt.Errorf("%w: empty identity", ErrMalformed)
	}

	if len(tokens) > 1 && tokens[1] != "" {
		mode, err := parseMode(tokens[1])
		if err != nil {
			return audit.Job{}, err
		}
		job.Mode = mode
	}
	if len(tokens) > 2 && tokens[2] != "" {
		device, err := parseDevice(tokens[2])
		if err != nil {
			return audit.Job{}, err
		}
		job.Device = device
	}
	if len(tokens) > 3 {
		job.BatchID = tokens[3]
	}
	return job, nil
}

func parseMode(token string) (audit.Mode, error) {
	switch audit.Mode(token) {
	case audit.ModeIncluded, audit.ModeBlocked:
		return audit.Mode(token), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrMalformed, token)
	}
}

func parseDevice(token string) (audit.Device, error) {
	switch audit.Device(token) {
	case audit.DeviceMobile, audit.DeviceDesktop:
		return audit.Device(token), nil
	default:
		return "", fmt.Errorf("%w: unknown device %q", ErrMalformed, token)
	}
}
