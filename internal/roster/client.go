// Package roster talks to the club's member API (GraphQL over HTTP POST).
//
// Calls are never retried here; the caller's next scheduled run is the retry.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

const (
	DefaultURL     = "https://root.shuttleapp.rs/"
	DefaultTimeout = 15 * time.Second
)

const maxResponseBytes = 4 << 20

const membersQuery = `query {
	getMember {
		name
		groupId
		discordId
		id
	}
}`

const updateStreakMutation = `mutation updateStreak($id: Int!, $hasSentUpdate: Boolean!) {
	updateStreak(id: $id, hasSentUpdate: $hasSentUpdate) {
		id
		streak
		maxStreak
	}
}`

type Member struct {
	ID        int64
	Name      string
	GroupID   int
	DiscordID string
}

type Config struct {
	URL     string
	Timeout time.Duration
}

type Client struct {
	url  string
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}, log: log}
}

// WithHTTPClient replaces the underlying HTTP client (tests, proxies).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Members fetches the roster. Entries that cannot be decoded or carry no
// roster id are skipped.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	data, err := c.do(ctx, gqlRequest{Query: membersQuery}, "fetch members")
	if err != nil {
		return nil, err
	}

	var payload struct {
		GetMember []json.RawMessage `json:"getMember"`
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, errors.Malformed("fetch members: decode data: %v", err)
		}
	}

	out := make([]Member, 0, len(payload.GetMember))
	for i, raw := range payload.GetMember {
		m, ok := decodeMember(raw)
		if !ok {
			c.log.Warn("skipping malformed roster entry", logx.Int("index", i))
			continue
		}
		out = append(out, m)
	}
	c.log.Debug("roster fetched", logx.Int("members", len(out)), logx.Int("entries", len(payload.GetMember)))
	return out, nil
}

// ReportStatus records whether member id posted today's status update.
func (c *Client) ReportStatus(ctx context.Context, id int64, sent bool) error {
	_, err := c.do(ctx, gqlRequest{
		Query:     updateStreakMutation,
		Variables: map[string]any{"id": id, "hasSentUpdate": sent},
	}, "update streak "+strconv.FormatInt(id, 10))
	return err
}

func (c *Client) do(ctx context.Context, body gqlRequest, op string) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Network(err, op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Network(err, op+": read body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.PermissionDenied(errors.Newf("http %d", resp.StatusCode), op)
	case resp.StatusCode/100 != 2:
		return nil, errors.Network(errors.Newf("http %d: %s", resp.StatusCode, snippet(raw)), op)
	}

	var out gqlResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Malformed("%s: decode response: %v", op, err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.Malformed("%s: graphql: %s", op, strings.Join(msgs, "; "))
	}
	return out.Data, nil
}

func decodeMember(raw json.RawMessage) (Member, bool) {
	var m struct {
		ID        json.Number     `json:"id"`
		Name      string          `json:"name"`
		GroupID   json.Number     `json:"groupId"`
		DiscordID json.RawMessage `json:"discordId"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return Member{}, false
	}
	id, err := m.ID.Int64()
	if err != nil || id == 0 {
		return Member{}, false
	}
	out := Member{ID: id, Name: strings.TrimSpace(m.Name), DiscordID: flexID(m.DiscordID)}
	if g, err := m.GroupID.Int64(); err == nil {
		out.GroupID = int(g)
	}
	return out, true
}

// flexID accepts a discord id encoded as a JSON string or number.
func flexID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
