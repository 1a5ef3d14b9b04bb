package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// UpsertPosts inserts posts inside one transaction. Re-delivered rows whose
// URI already exists are silently skipped.
func (s *Store) UpsertPosts(ctx context.Context, posts []*domain.Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (uri, cid, text, embedding, reply_parent, reply_root, indexed_at, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert post: %w", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		var score any
		if p.Score != nil {
			score = *p.Score
		}
		_, err := stmt.ExecContext(ctx,
			p.URI,
			p.CID,
			p.Text,
			encodeEmbedding(p.Embedding),
			nullString(p.ReplyParent),
			nullString(p.ReplyRoot),
			p.IndexedAt.UnixMilli(),
			score,
		)
		if err != nil {
			return fmt.Errorf("insert post %s: %w", p.URI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeletePosts removes posts by URI. URIs not present are no-ops.
func (s *Store) DeletePosts(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	query := `DELETE FROM posts WHERE uri IN (` + placeholders(len(uris)) + `)`
	if _, err := s.db.ExecContext(ctx, query, uriArgs(uris)...); err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	return nil
}

// ExistingPostURIs reports which of the given URIs are cached.
func (s *Store) ExistingPostURIs(ctx context.Context, uris []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(uris))
	if len(uris) == 0 {
		return existing, nil
	}

	query := `SELECT uri FROM posts WHERE uri IN (` + placeholders(len(uris)) + `)`
	rows, err := s.db.QueryContext(ctx, query, uriArgs(uris)...)
	if err != nil {
		return nil, fmt.Errorf("select existing posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan post uri: %w", err)
		}
		existing[uri] = true
	}
	return existing, rows.Err()
}

// UpdatePostScore patches embedding and score on an already cached post.
func (s *Store) UpdatePostScore(ctx context.Context, uri string, embedding []float32, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET embedding = ?, score = ? WHERE uri = ?`,
		encodeEmbedding(embedding), score, uri,
	)
	if err != nil {
		return fmt.Errorf("update post score: %w", err)
	}
	return nil
}

// PostsOlderThan returns the URIs of posts indexed before cutoff.
func (s *Store) PostsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uri FROM posts WHERE indexed_at < ?`, cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("select old posts: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan post uri: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// PostEmbeddings returns stored embeddings for the given URIs, omitting posts
// that are missing or not yet embedded.
func (s *Store) PostEmbeddings(ctx context.Context, uris []string) (map[string][]float32, error) {
	embeddings := make(map[string][]float32, len(uris))
	if len(uris) == 0 {
		return embeddings, nil
	}

	query := `SELECT uri, embedding FROM posts
		WHERE embedding IS NOT NULL AND uri IN (` + placeholders(len(uris)) + `)`
	rows, err := s.db.QueryContext(ctx, query, uriArgs(uris)...)
	if err != nil {
		return nil, fmt.Errorf("select post embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uri string
		var blob []byte
		if err := rows.Scan(&uri, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", uri, err)
		}
		embeddings[uri] = vec
	}
	return embeddings, rows.Err()
}

// SamplePosts returns up to limit random embedded posts excluding the given
// URIs.
func (s *Store) SamplePosts(ctx context.Context, limit int, exclude []string) ([]domain.Post, error) {
	query := `SELECT uri, cid, text, embedding, reply_parent, reply_root, indexed_at, score
		FROM posts WHERE embedding IS NOT NULL`
	var args []any
	if len(exclude) > 0 {
		query += ` AND uri NOT IN (` + placeholders(len(exclude)) + `)`
		args = append(args, uriArgs(exclude)...)
	}
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sample posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// scoreMicrosExpr quantizes the score column to the integer-micro resolution
// cursors are encoded with. The sort, the cursor, and the keyset predicate
// all use this one expression: ranking on a finer resolution than the cursor
// carries would let sub-micro-distinct scores slip between pages.
const scoreMicrosExpr = `CAST(ROUND(COALESCE(score, 0) * 1000000) AS INTEGER)`

// RankedPosts returns posts ordered by score descending with CID ascending as
// the tie-break, strictly after the cursor position when after is non-nil.
func (s *Store) RankedPosts(ctx context.Context, limit int, after *domain.FeedCursor, scoredOnly bool) ([]domain.Post, error) {
	var (
		conds []string
		args  []any
	)
	if scoredOnly {
		conds = append(conds, `score IS NOT NULL`)
	}
	if after != nil {
		conds = append(conds, `(
			`+scoreMicrosExpr+` < ?
			OR (`+scoreMicrosExpr+` = ? AND cid > ?)
		)`)
		args = append(args, after.ScoreMicros, after.ScoreMicros, after.CID)
	}

	query := `SELECT uri, cid, text, embedding, reply_parent, reply_root, indexed_at, score FROM posts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY ` + scoreMicrosExpr + ` DESC, cid ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ranked posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]domain.Post, error) {
	var posts []domain.Post
	for rows.Next() {
		var (
			p           domain.Post
			blob        []byte
			parent, root sql.NullString
			indexedAt   int64
			score       sql.NullFloat64
		)
		err := rows.Scan(&p.URI, &p.CID, &p.Text, &blob, &parent, &root, &indexedAt, &score)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", p.URI, err)
		}
		p.Embedding = vec
		p.ReplyParent = parent.String
		p.ReplyRoot = root.String
		p.IndexedAt = time.UnixMilli(indexedAt).UTC()
		if score.Valid {
			v := score.Float64
			p.Score = &v
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
