package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/auth"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
)

// Client is the HTTP implementation of Backend.
//
// Wire surface:
//
//	POST {base}/v1/sync/{entityType}/{entityID}   push one mutation
//	GET  {base}/v1/changes?since={remoteVersion}  pull changed entities
//
// A 409 response carries the server's current revision and, when
// available, its current record, and maps to *ConflictError. 5xx and
// transport failures map to *TransientError; other 4xx map to
// *PermanentError.
type Client struct {
	baseURL  string
	client   *http.Client
	identity auth.Source
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client. If httpClient is nil a client with
// a 30 second timeout is used.
func NewClient(baseURL string, identity auth.Source, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   httpClient,
		identity: identity,
	}
}

// pushRequest is the JSON body of a push.
type pushRequest struct {
	EntryID           string          `json:"entry_id"`
	Operation         string          `json:"operation"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	BaseRemoteVersion int64           `json:"base_remote_version"`
	LocalVersion      int64           `json:"local_version"`
}

// conflictResponse is the JSON body of a 409.
type conflictResponse struct {
	RemoteVersion int64   `json:"remote_version"`
	Snapshot      *Change `json:"snapshot,omitempty"`
}

// Push implements Backend.
func (c *Client) Push(ctx context.Context, entry *schema.QueueEntry) (*PushResult, error) {
	body, err := json.Marshal(pushRequest{
		EntryID:           entry.EntryID,
		Operation:         string(entry.Operation),
		Payload:           entry.Payload,
		BaseRemoteVersion: entry.BaseRemoteVersion,
		LocalVersion:      entry.LocalVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/sync/%s/%s",
		c.baseURL, url.PathEscape(string(entry.EntityType)), url.PathEscape(entry.EntityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and dropped connections are retryable.
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result PushResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("undecodable push response: %w", err)}
		}
		return &result, nil

	case resp.StatusCode == http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("undecodable conflict response: %w", err)}
		}
		return nil, &ConflictError{RemoteVersion: cr.RemoteVersion, Snapshot: cr.Snapshot}

	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}

	default:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: readReason(resp.Body)}
	}
}

// Pull implements Backend.
func (c *Client) Pull(ctx context.Context, since int64) ([]Change, error) {
	endpoint := c.baseURL + "/v1/changes?since=" + strconv.FormatInt(since, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body struct {
			Changes []Change `json:"changes"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("undecodable pull response: %w", err)}
		}
		return body.Changes, nil

	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}

	default:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: readReason(resp.Body)}
	}
}

// authorize attaches the current identity. Callers should not reach the
// network unauthenticated (the engine suspends), so a missing identity is
// a permanent error rather than something to retry.
func (c *Client) authorize(req *http.Request) error {
	id, ok := c.identity.Current()
	if !ok {
		return &PermanentError{Status: http.StatusUnauthorized, Reason: "no identity available"}
	}
	req.Header.Set("Authorization", "Bearer "+id.Token)
	req.Header.Set("X-Inkwell-User", id.UserID)
	return nil
}

func readReason(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	return strings.TrimSpace(string(data))
}
