package checkpoint

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

	"github.com/cartridge/paddle/internal/types"
)

const maxErrorBody = 4 << 10

// HTTPRemote talks to the snapshot service REST surface.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote targets baseURL, e.g. http://localhost:4000. A nil client
// uses http.DefaultClient; per-call deadlines come from the context.
func NewHTTPRemote(baseURL string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemote{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Latest fetches the newest full record.
func (r *HTTPRemote) Latest(ctx context.Context) (types.SnapshotRecord, error) {
	var rec types.SnapshotRecord
	status, err := r.do(ctx, http.MethodGet, "/snapshots/latest", nil, &rec)
	if status == http.StatusNotFound {
		return types.SnapshotRecord{}, ErrNoSnapshot
	}
	return rec, err
}

// Append posts one record.
func (r *HTTPRemote) Append(ctx context.Context, in types.AppendInput) (types.AppendReceipt, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return types.AppendReceipt{}, fmt.Errorf("encode append: %w", err)
	}
	var receipt types.AppendReceipt
	_, err = r.do(ctx, http.MethodPost, "/snapshots", body, &receipt)
	return receipt, err
}

// Page lists the newest limit summaries, oldest first.
func (r *HTTPRemote) Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error) {
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	var page []types.SnapshotSummary
	_, err := r.do(ctx, http.MethodGet, "/snapshots?"+q.Encode(), nil, &page)
	return page, err
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &msg) != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusBadRequest {
			return resp.StatusCode, &types.ValidationError{Message: msg.Message}
		}
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg.Message)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
