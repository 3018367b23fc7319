package nfc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserDirectory resolves a scanned tag to its owner.
// Lookup returns ErrUnknownTag (possibly wrapped) for unregistered tags.
type UserDirectory interface {
	Lookup(ctx context.Context, tag TagID) (UserRecord, error)
}

// HTTPDirectory looks users up in a remote directory service:
//
//	GET {BaseURL}/users/tag/{tag}  ->  {"username": "...", "avatar_url": "..."}
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPDirectory creates a directory client. token is sent as a bearer
// token when non-empty.
func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Lookup implements UserDirectory.
func (d *HTTPDirectory) Lookup(ctx context.Context, tag TagID) (UserRecord, error) {
	endpoint := d.baseURL + "/users/tag/" + url.PathEscape(string(tag))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return UserRecord{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return UserRecord{}, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return UserRecord{}, ErrUnknownTag
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UserRecord{}, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user UserRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&user); err != nil {
		return UserRecord{}, fmt.Errorf("decode directory response: %w", err)
	}
	return user, nil
}
