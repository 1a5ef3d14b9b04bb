package firehose

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	postCollection = "app.bsky.feed.post"
	likeCollection = "app.bsky.feed.like"
)

// Event is one decoded Jetstream message.
type Event struct {
	DID    string
	TimeUS int64
	Kind   string
	Commit *Commit
}

// Commit is the repository change carried by a commit event.
type Commit struct {
	Rev        string
	Operation  string
	Collection string
	RKey       string
	CID        string
	Post       *PostRecord
	Like       *LikeRecord
}

// URI builds the AT-URI of the committed record.
func (e *Event) URI() string {
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Commit.Collection, e.Commit.RKey)
}

// PostRecord is the parsed content of an app.bsky.feed.post record.
type PostRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs"`
	Reply     *ReplyRef `json:"reply,omitempty"`
}

// LikeRecord is the parsed content of an app.bsky.feed.like record.
type LikeRecord struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func parseEvent(data []byte) (*Event, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &Event{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}
	if raw.Kind != "commit" || len(raw.Commit) == 0 {
		return event, nil
	}

	var rc struct {
		Rev        string          `json:"rev"`
		Operation  string          `json:"operation"`
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record,omitempty"`
		CID        string          `json:"cid"`
	}
	if err := json.Unmarshal(raw.Commit, &rc); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}

	commit := &Commit{
		Rev:        rc.Rev,
		Operation:  rc.Operation,
		Collection: rc.Collection,
		RKey:       rc.RKey,
		CID:        rc.CID,
	}

	if len(rc.Record) > 0 {
		switch {
		case strings.HasPrefix(rc.Collection, postCollection):
			var record PostRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal post record: %w", err)
			}
			commit.Post = &record
		case strings.HasPrefix(rc.Collection, likeCollection):
			var record LikeRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal like record: %w", err)
			}
			commit.Like = &record
		}
	}

	event.Commit = commit
	return event, nil
}
