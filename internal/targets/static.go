// Package targets provides the ordered catalog of auditable pages.
package targets

import (
	"context"
	"fmt"
	"strings"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Static serves a catalog fixed at construction time, typically from
// configuration.
type Static struct {
	targets []audit.Target
}

// NewStatic validates and copies the configured catalog. Identities must be
// unique, non-empty, must not collide with the fan-out sentinel, and must
// not contain the wire separator.
func NewStatic(targets []audit.Target) (*Static, error) {
	seen := make(map[string]struct{}, len(targets))
	copied := make([]audit.Target, 0, len(targets))
	for _, target := range targets {
		if err := validateIdentity(target.Identity); err != nil {
			return nil, err
		}
		if strings.TrimSpace(target.URL) == "" {
			return nil, fmt.Errorf("target %q has no url", target.Identity)
		}
		if _, dup := seen[target.Identity]; dup {
			return nil, fmt.Errorf("duplicate target identity %q", target.Identity)
		}
		seen[target.Identity] = struct{}{}
		copied = append(copied, target)
	}
	return &Static{targets: copied}, nil
}

// Targets returns the catalog in configured order.
func (s *Static) Targets(_ context.Context) ([]audit.Target, error) {
	out := make([]audit.Target, len(s.targets))
	copy(out, s.targets)
	return out, nil
}

func validateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("target identity is required")
	}
	if identity == audit.SentinelAll {
		return fmt.Errorf("target identity %q collides with the fan-out sentinel", identity)
	}
	if strings.Contains(identity, "|") {
		return fmt.Errorf("target identity %q contains the message separator", identity)
	}
	return nil
}
