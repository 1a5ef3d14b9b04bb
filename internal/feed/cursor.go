package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// encodeCursor builds the opaque pagination token from the ordering-key
// values of the last returned row: "<scoreMicros>::<cid>". The cursor encodes
// the same key the sort uses, so chained pages never skip or duplicate rows.
func encodeCursor(score float64, cid string) string {
	return fmt.Sprintf("%d::%s", domain.ScoreMicros(score), cid)
}

// decodeCursor parses a pagination token. Any missing part, or a non-numeric
// score component, is a malformed cursor.
func decodeCursor(cursor string) (*domain.FeedCursor, error) {
	left, cid, found := strings.Cut(cursor, "::")
	if !found || left == "" || cid == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedCursor, cursor)
	}
	micros, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrMalformedCursor, cursor, err)
	}
	return &domain.FeedCursor{ScoreMicros: micros, CID: cid}, nil
}
