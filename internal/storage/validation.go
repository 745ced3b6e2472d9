package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConnection   = errors.New("invalid connection")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateSubscription checks the invariants every stored subscription holds.
func validateSubscription(sub *model.Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if model.DedupKey(sub.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSubscription)
	}
	if sub.Price.Valid && !sub.Price.Decimal.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidSubscription)
	}
	if cycle, err := model.ParseCycle(string(sub.Cycle)); err != nil || cycle != sub.Cycle {
		return fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidSubscription, sub.Cycle)
	}

	// Validate confidence is between 0 and 1
	if sub.Confidence < 0 || sub.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidSubscription)
	}
	return nil
}

// validateConnection validates a connection before insert.
func validateConnection(conn *model.Connection) error {
	if conn == nil {
		return fmt.Errorf("%w: connection", ErrNilParameter)
	}
	if !strings.Contains(conn.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidConnection, conn.Email)
	}
	if strings.TrimSpace(conn.Provider) == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalidConnection)
	}
	return nil
}
