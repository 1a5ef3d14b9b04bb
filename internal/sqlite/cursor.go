package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetCursor retrieves the saved firehose cursor for a service. Returns 0 if
// no cursor has been saved.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM sub_state WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor upserts the firehose cursor for a service. The stored value never
// decreases, so a late write from a replayed event cannot move it backwards.
func (s *Store) SetCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_state (service, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE
		SET cursor = MAX(cursor, excluded.cursor), updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
