package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

const subscriptionColumns = `id, name, price, currency, cycle, category, confidence,
	suspicious, sources, last_seen, created_at, updated_at`

// GetSubscriptions returns every stored subscription, most confident first.
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		ORDER BY confidence DESC, dedup_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := []model.Subscription{}
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription retrieves a subscription by ID.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, notFound(err, "subscription "+id)
	}
	return sub, nil
}

// CreateSubscription stores a user-entered subscription and assigns its ID.
func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}

	now := s.now()
	sub.ID = uuid.NewString()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.SourceRefs == nil {
		sub.SourceRefs = []string{}
	}

	if err := insertSubscription(ctx, s.db, sub, true); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subscription %q: %w", sub.Name, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// UpdateSubscription overwrites the editable fields of an existing subscription.
func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	if err := validateString(sub.ID, "id"); err != nil {
		return err
	}

	price, sources, err := encodeSubscription(sub)
	if err != nil {
		return err
	}

	sub.UpdatedAt = s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET dedup_key = ?, name = ?, price = ?, currency = ?, cycle = ?, category = ?,
			confidence = ?, suspicious = ?, sources = ?, last_seen = ?, updated_at = ?
		WHERE id = ?
	`, sub.Key(), sub.Name, price, sub.Currency, string(sub.Cycle), sub.Category,
		sub.Confidence, sub.Suspicious, sources, nullTime(sub.LastSeen), sub.UpdatedAt, sub.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subscription %q: %w", sub.Name, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription %s: %w", sub.ID, common.ErrNotFound)
	}
	return nil
}

// DeleteSubscription removes a subscription by ID.
func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// SaveDetected folds scan results into the stored list by dedup key. A new
// key is inserted. For a stored key the source references are unioned, and
// the detected fields replace the stored ones only when the scan found a
// higher price, or the same price seen more recently. Subscriptions entered
// by hand keep their fields.
func (s *SQLiteStorage) SaveDetected(ctx context.Context, subs []model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for i := range subs {
		sub := subs[i]
		if err := validateSubscription(&sub); err != nil {
			return fmt.Errorf("subscription %q: %w", sub.Name, err)
		}

		var manual bool
		row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+`, manual FROM subscriptions WHERE dedup_key = ?`, sub.Key())
		stored, scanErr := scanSubscription(withTrailing(row, &manual))
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			if sub.ID == "" {
				sub.ID = uuid.NewString()
			}
			sub.CreatedAt = now
			sub.UpdatedAt = now
			if sub.SourceRefs == nil {
				sub.SourceRefs = []string{}
			}
			if err := insertSubscription(ctx, tx, &sub, false); err != nil {
				return fmt.Errorf("failed to save subscription %q: %w", sub.Name, err)
			}
		case scanErr != nil:
			return fmt.Errorf("failed to load subscription %q: %w", sub.Name, scanErr)
		default:
			merged := mergeDetected(stored, &sub, manual)
			merged.UpdatedAt = now
			if err := updateSubscriptionRow(ctx, tx, merged); err != nil {
				return fmt.Errorf("failed to save subscription %q: %w", sub.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detected subscriptions: %w", err)
	}

	s.logger.Debug("Saved detected subscriptions", "count", len(subs))
	return nil
}

// mergeDetected combines a stored subscription with a fresh detection of the
// same key. The stored ID and creation time are always kept.
func mergeDetected(stored, detected *model.Subscription, manual bool) *model.Subscription {
	merged := *stored
	if !manual && detectedWins(detected, stored) {
		merged.Name = detected.Name
		merged.Price = detected.Price
		merged.Currency = detected.Currency
		merged.Cycle = detected.Cycle
		merged.Category = detected.Category
		merged.Confidence = detected.Confidence
	}
	if !manual {
		merged.Suspicious = stored.Suspicious && detected.Suspicious
	}
	if detected.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = detected.LastSeen
	}

	merged.SourceRefs = append([]string{}, stored.SourceRefs...)
	seen := make(map[string]bool, len(merged.SourceRefs))
	for _, ref := range merged.SourceRefs {
		seen[ref] = true
	}
	for _, ref := range detected.SourceRefs {
		if !seen[ref] {
			seen[ref] = true
			merged.SourceRefs = append(merged.SourceRefs, ref)
		}
	}
	return &merged
}

func detectedWins(detected, stored *model.Subscription) bool {
	if c := model.ComparePrices(detected.Price, stored.Price); c != 0 {
		return c > 0
	}
	return detected.LastSeen.After(stored.LastSeen)
}

func updateSubscriptionRow(ctx context.Context, q queryable, sub *model.Subscription) error {
	price, sources, err := encodeSubscription(sub)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE subscriptions
		SET name = ?, price = ?, currency = ?, cycle = ?, category = ?, confidence = ?,
			suspicious = ?, sources = ?, last_seen = ?, updated_at = ?
		WHERE id = ?
	`, sub.Name, price, sub.Currency, string(sub.Cycle), sub.Category, sub.Confidence,
		sub.Suspicious, sources, nullTime(sub.LastSeen), sub.UpdatedAt, sub.ID)
	return err
}

func insertSubscription(ctx context.Context, q queryable, sub *model.Subscription, manual bool) error {
	price, sources, err := encodeSubscription(sub)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO subscriptions (id, dedup_key, name, price, currency, cycle, category,
			confidence, suspicious, sources, last_seen, created_at, updated_at, manual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.Key(), sub.Name, price, sub.Currency, string(sub.Cycle), sub.Category,
		sub.Confidence, sub.Suspicious, sources, nullTime(sub.LastSeen), sub.CreatedAt, sub.UpdatedAt, manual)
	return err
}

// encodeSubscription renders the columns that need conversion. Prices are
// stored as fixed-point text to avoid float drift.
func encodeSubscription(sub *model.Subscription) (sql.NullString, string, error) {
	var price sql.NullString
	if sub.Price.Valid {
		price = sql.NullString{String: sub.Price.Decimal.StringFixed(2), Valid: true}
	}

	refs := sub.SourceRefs
	if refs == nil {
		refs = []string{}
	}
	sources, err := json.Marshal(refs)
	if err != nil {
		return price, "", fmt.Errorf("failed to encode sources: %w", err)
	}
	return price, string(sources), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// trailingScanner scans extra columns selected after the subscription columns.
type trailingScanner struct {
	row   rowScanner
	extra []any
}

func withTrailing(row rowScanner, extra ...any) trailingScanner {
	return trailingScanner{row: row, extra: extra}
}

func (t trailingScanner) Scan(dest ...any) error {
	return t.row.Scan(append(dest, t.extra...)...)
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var (
		sub      model.Subscription
		price    sql.NullString
		cycle    string
		sources  string
		lastSeen sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.Name, &price, &sub.Currency, &cycle, &sub.Category,
		&sub.Confidence, &sub.Suspicious, &sources, &lastSeen, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.Cycle = model.Cycle(cycle)
	if lastSeen.Valid {
		sub.LastSeen = lastSeen.Time
	}
	if price.Valid {
		value, parseErr := decimal.NewFromString(price.String)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price.String, parseErr)
		}
		sub.Price = decimal.NewNullDecimal(value)
	}
	if err := json.Unmarshal([]byte(sources), &sub.SourceRefs); err != nil {
		return nil, fmt.Errorf("invalid stored sources: %w", err)
	}
	if sub.SourceRefs == nil {
		sub.SourceRefs = []string{}
	}
	return &sub, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
