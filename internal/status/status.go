package status

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("not authorized")

	ErrTicketNotFound    = fmt.Errorf("ticket: %w", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order: %w", ErrNotFound)
	ErrTicketReserved    = fmt.Errorf("ticket: ticket is already reserved: %w", ErrConflict)
	ErrTicketLocked      = fmt.Errorf("ticket: cannot edit a reserved ticket: %w", ErrConflict)
	ErrVersionConflict   = fmt.Errorf("version mismatch: %w", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("order: invalid status transition: %w", ErrConflict)
	ErrOrderCancelled    = fmt.Errorf("order: order is cancelled: %w", ErrConflict)

	// ErrVersionGap means an event arrived before its predecessor and must be redelivered.
	ErrVersionGap = errors.New("event: version gap")
)
