// Package signal is the client side of the classroom relay API: short-lived
// request/response calls only, no persistent connection. Callers remember
// cursors between calls and must tolerate replayed items after a cursor
// reset.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient builds a relay client for baseURL (e.g. "https://host:8443").
// The token is sent as a bearer credential on every call; obtain one via
// Login or Register first when starting from credentials.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token and installs it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp loginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// ICEServer mirrors the /api/turn-config response entries.
type ICEServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (c *Client) FetchICEServers(ctx context.Context) ([]ICEServer, error) {
	var resp struct {
		ICEServers []ICEServer `json:"iceServers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/turn-config", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ICEServers, nil
}

func (c *Client) PublishOffer(ctx context.Context, roomID string, offer json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, c.roomPath(roomID, "offer"), map[string]json.RawMessage{"offer": offer}, nil)
}

func (c *Client) FetchOffer(ctx context.Context, roomID string) (json.RawMessage, error) {
	var resp struct {
		Offer json.RawMessage `json:"offer"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.roomPath(roomID, "offer"), nil, &resp); err != nil {
		return nil, err
	}
	return normalizeBlob(resp.Offer), nil
}

func (c *Client) PublishAnswer(ctx context.Context, roomID string, answer json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, c.roomPath(roomID, "answer"), map[string]json.RawMessage{"answer": answer}, nil)
}

func (c *Client) FetchAnswer(ctx context.Context, roomID string) (json.RawMessage, error) {
	var resp struct {
		Answer json.RawMessage `json:"answer"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.roomPath(roomID, "answer"), nil, &resp); err != nil {
		return nil, err
	}
	return normalizeBlob(resp.Answer), nil
}

func (c *Client) PublishCandidate(ctx context.Context, roomID string, role classroom.Role, candidate json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, c.roomPath(roomID, "candidate"), map[string]interface{}{
		"role":      role,
		"candidate": candidate,
	}, nil)
}

// FetchCandidates returns the other role's queue from the given cursor;
// role is always the caller's own role.
func (c *Client) FetchCandidates(ctx context.Context, roomID string, role classroom.Role, after int) ([]json.RawMessage, int, error) {
	var resp struct {
		Candidates []json.RawMessage `json:"candidates"`
		NextCursor int               `json:"nextCursor"`
	}
	path := c.roomPath(roomID, "candidates") + "?" + url.Values{
		"role":  {string(role)},
		"after": {strconv.Itoa(after)},
	}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, after, err
	}
	return resp.Candidates, resp.NextCursor, nil
}

func (c *Client) PublishChat(ctx context.Context, roomID string, role classroom.Role, text string) error {
	return c.doJSON(ctx, http.MethodPost, c.roomPath(roomID, "chat"), map[string]interface{}{
		"role": role,
		"text": text,
	}, nil)
}

func (c *Client) FetchChat(ctx context.Context, roomID string, after int) ([]classroom.ChatMessage, int, error) {
	var resp struct {
		Messages   []classroom.ChatMessage `json:"messages"`
		NextCursor int                     `json:"nextCursor"`
	}
	path := c.roomPath(roomID, "chat") + "?" + url.Values{"after": {strconv.Itoa(after)}}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, after, err
	}
	return resp.Messages, resp.NextCursor, nil
}

func (c *Client) PublishPresence(ctx context.Context, roomID string, state classroom.PresenceState) error {
	return c.doJSON(ctx, http.MethodPost, c.roomPath(roomID, "state"), map[string]interface{}{
		"role":          state.Role,
		"micEnabled":    state.MicEnabled,
		"camEnabled":    state.CamEnabled,
		"handRaised":    state.HandRaised,
		"sharingScreen": state.SharingScreen,
		"reaction":      state.Reaction,
	}, nil)
}

func (c *Client) FetchPresence(ctx context.Context, roomID string) ([]classroom.PresenceState, error) {
	var resp struct {
		States []classroom.PresenceState `json:"states"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.roomPath(roomID, "state"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

func (c *Client) roomPath(roomID, op string) string {
	return "/api/classroom/" + url.PathEscape(roomID) + "/" + op
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// normalizeBlob maps the wire's explicit null to a nil blob.
func normalizeBlob(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
