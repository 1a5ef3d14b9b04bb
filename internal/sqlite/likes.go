package sqlite

import (
	"context"
	"fmt"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// UpsertLikes inserts likes inside one transaction. Re-delivered likes, and
// likes whose (post, author) pair is already stored under a different URI,
// are silently skipped.
func (s *Store) UpsertLikes(ctx context.Context, likes []*domain.Like) error {
	if len(likes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO likes (uri, cid, post_uri, post_cid, author, indexed_at, trained_on)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert like: %w", err)
	}
	defer stmt.Close()

	for _, l := range likes {
		_, err := stmt.ExecContext(ctx,
			l.URI, l.CID, l.PostURI, l.PostCID, l.Author, l.IndexedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert like %s: %w", l.URI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteLikes removes likes by URI. URIs not present are no-ops.
func (s *Store) DeleteLikes(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	query := `DELETE FROM likes WHERE uri IN (` + placeholders(len(uris)) + `)`
	if _, err := s.db.ExecContext(ctx, query, uriArgs(uris)...); err != nil {
		return fmt.Errorf("delete likes: %w", err)
	}
	return nil
}

// TrainedLikes returns likes already consumed by training.
func (s *Store) TrainedLikes(ctx context.Context) ([]domain.Like, error) {
	return s.selectLikes(ctx, 1)
}

// UntrainedLikes returns likes not yet consumed by training.
func (s *Store) UntrainedLikes(ctx context.Context) ([]domain.Like, error) {
	return s.selectLikes(ctx, 0)
}

func (s *Store) selectLikes(ctx context.Context, trained int) ([]domain.Like, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, cid, post_uri, post_cid, author, indexed_at, trained_on
		FROM likes WHERE trained_on = ?`, trained)
	if err != nil {
		return nil, fmt.Errorf("select likes: %w", err)
	}
	defer rows.Close()

	var likes []domain.Like
	for rows.Next() {
		var (
			l         domain.Like
			indexedAt int64
		)
		if err := rows.Scan(&l.URI, &l.CID, &l.PostURI, &l.PostCID, &l.Author, &indexedAt, &l.TrainedOn); err != nil {
			return nil, fmt.Errorf("scan like: %w", err)
		}
		l.IndexedAt = timeFromMillis(indexedAt)
		likes = append(likes, l)
	}
	return likes, rows.Err()
}

// MarkLikesTrained flips trainedOn for the given like URIs. Flipping an
// already trained like is a no-op, so the step is idempotent.
func (s *Store) MarkLikesTrained(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	query := `UPDATE likes SET trained_on = 1 WHERE uri IN (` + placeholders(len(uris)) + `)`
	if _, err := s.db.ExecContext(ctx, query, uriArgs(uris)...); err != nil {
		return fmt.Errorf("mark likes trained: %w", err)
	}
	return nil
}
