// Package bluesky is a minimal AT Protocol client for managing feed generator
// records.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultPDS = "https://bsky.social"

// Client talks XRPC to a PDS. Call Login before any repo operation.
type Client struct {
	pds        string
	httpClient *http.Client

	accessJwt string
	did       string
}

// NewClient creates a client against the given PDS, defaulting to
// https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds:        pds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not the account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	var resp struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	err := c.call(ctx, "com.atproto.server.createSession", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated account's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// PublishFeed creates or updates a feed generator record under rkey in the
// authenticated account's repo.
func (c *Client) PublishFeed(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}
	err := c.call(ctx, "com.atproto.repo.putRecord", map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.generator",
		"rkey":       rkey,
		"record":     record,
	}, nil)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// UnpublishFeed deletes the feed generator record under rkey.
func (c *Client) UnpublishFeed(ctx context.Context, rkey string) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}
	err := c.call(ctx, "com.atproto.repo.deleteRecord", map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.generator",
		"rkey":       rkey,
	}, nil)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, respBody)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
