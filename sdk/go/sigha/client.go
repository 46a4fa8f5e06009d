package sigha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the Sigha Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// SessionInfo mirrors the server-side session view.
type SessionInfo struct {
	SessionID     string   `json:"session_id"`
	T             string   `json:"t"`
	Depth         int      `json:"depth"`
	SnapshotCount int      `json:"snapshot_count"`
	Sealed        bool     `json:"sealed"`
	Path          []string `json:"path,omitempty"`
	OpCount       uint64   `json:"op_count"`
	CreatedAt     int64    `json:"created_at"`
}

// SealResult mirrors the server-side sealing response.
type SealResult struct {
	Info          SessionInfo `json:"info"`
	PayloadDigest string      `json:"payload_digest"`
	Anchor        string      `json:"anchor"`
	AnchorTx      string      `json:"anchor_tx,omitempty"`
	Blob          []byte      `json:"blob"`
}

// VerifyResult carries the outcome of a verification call.
type VerifyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("sigha api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sigha api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Sigha Chain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateSession opens a fresh trace session.
func (c *Client) CreateSession(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	if err := c.post(ctx, "/api/v1/sessions", struct{}{}, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	endpoint := fmt.Sprintf("/api/v1/sessions?id=%s", url.QueryEscape(sessionID))
	if err := c.get(ctx, endpoint, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Update applies one evolution step. expectedPrev may be empty; when set the
// server rejects the update unless it matches the live fingerprint.
func (c *Client) Update(ctx context.Context, sessionID, agentID, expectedPrev string) (SessionInfo, error) {
	payload := map[string]string{
		"session_id":    sessionID,
		"agent_id":      agentID,
		"expected_prev": expectedPrev,
	}
	var info SessionInfo
	if err := c.post(ctx, "/api/v1/sessions/update", payload, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Fanout merges a set of parallel branches in one logical step.
func (c *Client) Fanout(ctx context.Context, sessionID string, branches []string) (SessionInfo, error) {
	payload := map[string]any{"session_id": sessionID, "branches": branches}
	var info SessionInfo
	if err := c.post(ctx, "/api/v1/sessions/fanout", payload, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Subtrace records an ordered sub-trace and installs it into the session.
func (c *Client) Subtrace(ctx context.Context, sessionID, name string, steps []string) (SessionInfo, error) {
	payload := map[string]any{"session_id": sessionID, "name": name, "steps": steps}
	var info SessionInfo
	if err := c.post(ctx, "/api/v1/sessions/subtrace", payload, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Seal finalizes the session against the given payload.
func (c *Client) Seal(ctx context.Context, sessionID string, payload []byte) (SealResult, error) {
	body := map[string]any{"session_id": sessionID, "payload": payload}
	var result SealResult
	if err := c.post(ctx, "/api/v1/sessions/seal", body, &result); err != nil {
		return SealResult{}, err
	}
	return result, nil
}

// VerifyPath replays a claimed path against a claimed fingerprint.
func (c *Client) VerifyPath(ctx context.Context, claimedT string, path []string) (VerifyResult, error) {
	payload := map[string]any{"t": claimedT, "path": path}
	var result VerifyResult
	if err := c.post(ctx, "/api/v1/verify/path", payload, &result); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// VerifySeal checks a stored seal against a payload.
func (c *Client) VerifySeal(ctx context.Context, sessionID string, payload []byte) (VerifyResult, error) {
	body := map[string]any{"session_id": sessionID, "payload": payload}
	var result VerifyResult
	if err := c.post(ctx, "/api/v1/verify/seal", body, &result); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// Export downloads the serialized state blob of a session.
func (c *Client) Export(ctx context.Context, sessionID string) ([]byte, error) {
	endpoint := fmt.Sprintf("/api/v1/sessions/export?id=%s", url.QueryEscape(sessionID))
	var out struct {
		Blob []byte `json:"blob"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Blob, nil
}

// Import restores a session from a serialized state blob.
func (c *Client) Import(ctx context.Context, blob []byte) (SessionInfo, error) {
	var info SessionInfo
	if err := c.post(ctx, "/api/v1/sessions/import", map[string]any{"blob": blob}, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			var wrapped struct {
				Error *APIError `json:"error"`
			}
			wrapped.Error = &apiErr
			if err := json.Unmarshal(data, &wrapped); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
