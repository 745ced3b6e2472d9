package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

// AddConnection stores a newly authorized mail account.
func (s *SQLiteStorage) AddConnection(ctx context.Context, conn *model.Connection) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConnection(conn); err != nil {
		return err
	}

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, email, provider, token, connected_at, last_scan, subscriptions_found)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conn.ID, conn.Email, conn.Provider, conn.Token, conn.ConnectedAt, conn.LastScan, conn.SubscriptionsFound)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connection %s: %w", conn.Email, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to add connection: %w", err)
	}

	s.logger.Info("Added connection", "email", conn.Email, "provider", conn.Provider)
	return nil
}

// GetConnections lists connected accounts in the order they were added.
func (s *SQLiteStorage) GetConnections(ctx context.Context) ([]model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, provider, token, connected_at, last_scan, subscriptions_found
		FROM connections
		ORDER BY connected_at ASC, email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conns := []model.Connection{}
	for rows.Next() {
		conn, scanErr := scanConnection(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", scanErr)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// GetConnection retrieves a connection by ID.
func (s *SQLiteStorage) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, provider, token, connected_at, last_scan, subscriptions_found
		FROM connections WHERE id = ?
	`, id)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, notFound(err, "connection "+id)
	}
	return conn, nil
}

// RemoveConnection deletes a connection and its stored token.
func (s *SQLiteStorage) RemoveConnection(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("connection %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// UpdateConnectionAfterScan records the outcome of a completed scan.
func (s *SQLiteStorage) UpdateConnectionAfterScan(ctx context.Context, id string, found int, scannedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE connections SET last_scan = ?, subscriptions_found = ? WHERE id = ?
	`, scannedAt, found, id)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("connection %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var conn model.Connection
	var lastScan *time.Time
	if err := row.Scan(&conn.ID, &conn.Email, &conn.Provider, &conn.Token,
		&conn.ConnectedAt, &lastScan, &conn.SubscriptionsFound); err != nil {
		return nil, err
	}
	conn.LastScan = lastScan
	return &conn, nil
}
