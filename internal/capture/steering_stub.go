// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package capture

import (
	"net/netip"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// Steering is a stub for non-Linux systems.
type Steering struct{}

// NewSteering returns an error on non-Linux systems.
func NewSteering(queue uint16, mode Mode, logger *logging.Logger) (*Steering, error) {
	return nil, errors.New(errors.KindUnavailable, "nftables steering is only supported on Linux")
}

// Target always returns the zero address.
func (s *Steering) Target() netip.Addr { return netip.Addr{} }

// Apply is a no-op on non-Linux.
func (s *Steering) Apply(target netip.Addr) error { return nil }

// Remove is a no-op on non-Linux.
func (s *Steering) Remove() error { return nil }
