// Package remote is the Bigin REST record store adapter. It speaks the v2
// API ({"data":[...]} envelopes, criteria search strings) and normalizes
// wire records to the flat shape the rest of the module consumes: lookup
// objects collapse to ids, owner objects to the owner email.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salesline/internal/auth"
	"salesline/internal/fault"
	"salesline/internal/store"
)

// Client implements store.Store against a Bigin REST endpoint.
type Client struct {
	// BaseURL overrides the data-center URL; tests point it at a local server.
	BaseURL    string
	DataCenter string
	Creds      auth.Provider
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client for the given data center.
func New(dc string, creds auth.Provider, timeout time.Duration) *Client {
	return &Client{DataCenter: dc, Creds: creds, Timeout: timeout}
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	dc := c.DataCenter
	if dc == "" {
		dc = "com"
	}
	return fmt.Sprintf("https://www.zohoapis.%s/bigin/v2", dc)
}

func (c *Client) Create(ctx context.Context, col store.Collection, fields store.Record) (store.Record, error) {
	var resp writeResponse
	body := map[string]any{"data": []any{encodeFields(col, fields)}}
	if err := c.do(ctx, http.MethodPost, string(col), nil, body, &resp); err != nil {
		return nil, err
	}
	id, err := resp.firstID()
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, col, id)
}

func (c *Client) Get(ctx context.Context, col store.Collection, id string) (store.Record, error) {
	var resp dataResponse
	if err := c.do(ctx, http.MethodGet, string(col)+"/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fault.New(fault.NotFound, "%s record %s not found", col, id)
	}
	return decodeFields(col, resp.Data[0]), nil
}

func (c *Client) Update(ctx context.Context, col store.Collection, id string, fields store.Record) (store.Record, error) {
	var resp writeResponse
	body := map[string]any{"data": []any{encodeFields(col, fields)}}
	if err := c.do(ctx, http.MethodPut, string(col)+"/"+url.PathEscape(id), nil, body, &resp); err != nil {
		return nil, err
	}
	if _, err := resp.firstID(); err != nil {
		return nil, err
	}
	return c.Get(ctx, col, id)
}

func (c *Client) Search(ctx context.Context, col store.Collection, q store.Query) ([]store.Record, error) {
	endpoint := string(col)
	params := url.Values{}

	criteria, leftover := criteriaString(q.Filters)
	switch {
	case q.Word != "":
		endpoint += "/search"
		params.Set("word", q.Word)
		leftover = q.Filters
	case criteria != "":
		endpoint += "/search"
		params.Set("criteria", criteria)
	}
	if q.Limit > 0 {
		params.Set("per_page", fmt.Sprint(q.Limit))
	}

	var resp dataResponse
	if err := c.do(ctx, http.MethodGet, endpoint, params, nil, &resp); err != nil {
		return nil, err
	}

	var out []store.Record
	for _, raw := range resp.Data {
		rec := decodeFields(col, raw)
		if !matchesLeftover(rec, leftover) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, col store.Collection, id string) error {
	var resp writeResponse
	if err := c.do(ctx, http.MethodDelete, string(col)+"/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return err
	}
	_, err := resp.firstID()
	return err
}

// criteriaString renders the filters the search API understands and
// returns the rest for in-process evaluation.
func criteriaString(filters []store.Filter) (string, []store.Filter) {
	var parts []string
	var leftover []store.Filter
	for _, f := range filters {
		switch f.Op {
		case store.Equals, store.GreaterThan, store.LessThan:
			parts = append(parts, fmt.Sprintf("(%s:%s:%v)", f.Field, f.Op, f.Value))
		default:
			leftover = append(leftover, f)
		}
	}
	return strings.Join(parts, " and "), leftover
}

func matchesLeftover(rec store.Record, filters []store.Filter) bool {
	for _, f := range filters {
		if !store.Matches(rec, f) {
			return false
		}
	}
	return true
}

type dataResponse struct {
	Data []map[string]any `json:"data"`
}

type writeResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

func (r writeResponse) firstID() (string, error) {
	if len(r.Data) == 0 {
		return "", fault.New(fault.RemoteUnavailable, "empty write response")
	}
	entry := r.Data[0]
	if entry.Status != "success" {
		return "", fault.New(fault.ValidationFailed, "write rejected: %s", entry.Message)
	}
	return entry.Details.ID, nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	return c.HTTPClient
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body, out any) error {
	token, err := c.Creds.Token(ctx)
	if err != nil {
		return err
	}

	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

	resp, err := c.client().Do(req)
	if err != nil {
		return transportFault(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return statusFault(resp.StatusCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fault.Wrap(fault.RemoteUnavailable, err, "decode response")
		}
	}
	return nil
}

func transportFault(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, err, "request timed out")
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fault.Wrap(fault.Timeout, err, "request timed out")
	}
	return fault.Wrap(fault.RemoteUnavailable, err, "request failed")
}

func statusFault(status int, body []byte) error {
	msg := apiMessage(body)
	switch {
	case status == http.StatusUnauthorized:
		return fault.New(fault.AuthRequired, "unauthorized: %s", msg)
	case status == http.StatusNotFound:
		return fault.New(fault.NotFound, "%s", msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fault.New(fault.ValidationFailed, "%s", msg)
	case status == http.StatusTooManyRequests:
		return fault.New(fault.RemoteUnavailable, "rate limited: %s", msg)
	default:
		return fault.New(fault.RemoteUnavailable, "status %d: %s", status, msg)
	}
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Data    []struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if len(payload.Data) > 0 && payload.Data[0].Message != "" {
			return payload.Data[0].Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "no response body"
	}
	return msg
}
