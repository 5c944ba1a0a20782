package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/storage"
)

type fixture struct {
	handler http.Handler
	svc     *service.Snapshots
}

func newFixture(t *testing.T, maxRecords int, opts Options) fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	svc := service.NewSnapshots(storage.NewMemoryStore(maxRecords), events.NoopPublisher{}, nil, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return fixture{handler: NewServer(svc, &logger, opts).Routes(ctx), svc: svc}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func (f fixture) count(t *testing.T) int {
	n, err := f.svc.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestAppendThenLatest(t *testing.T) {
	f := newFixture(t, 500, Options{})

	res := f.do(http.MethodPost, "/snapshots", `{"episode":1,"stats":{"score":5},"snapshot":{"epsilon":0.9}}`)
	require.Equal(t, http.StatusCreated, res.Code)
	var receipt struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &receipt))
	assert.NotEmpty(t, receipt.ID)
	assert.NotEmpty(t, receipt.Timestamp)

	res = f.do(http.MethodGet, "/snapshots/latest", "")
	require.Equal(t, http.StatusOK, res.Code)
	var latest struct {
		ID       string  `json:"id"`
		Episode  float64 `json:"episode"`
		Snapshot struct {
			Epsilon float64 `json:"epsilon"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &latest))
	assert.Equal(t, receipt.ID, latest.ID)
	assert.Equal(t, 1.0, latest.Episode)
	assert.Equal(t, 0.9, latest.Snapshot.Epsilon)
}

func TestAppendRejectsNonNumericEpisode(t *testing.T) {
	f := newFixture(t, 500, Options{})
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/snapshots", `{"episode":1,"stats":{},"snapshot":{}}`).Code)

	res := f.do(http.MethodPost, "/snapshots", `{"episode":"x","stats":{"score":5},"snapshot":{"epsilon":0.9}}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"message":"episode must be a number"}`, res.Body.String())
	assert.Equal(t, 1, f.count(t))
}

func TestAppendRejectsMalformedBodies(t *testing.T) {
	f := newFixture(t, 500, Options{})

	cases := map[string]string{
		"not json":      `{"episode":`,
		"null stats":    `{"episode":1,"stats":null,"snapshot":{}}`,
		"null snapshot": `{"episode":1,"stats":{},"snapshot":null}`,
		"json null":     `null`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res := f.do(http.MethodPost, "/snapshots", body)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Contains(t, res.Body.String(), `"message"`)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/snapshots", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"message":"Missing JSON body"}`, res.Body.String())
	assert.Zero(t, f.count(t))
}

func TestAppendBodyLimit(t *testing.T) {
	f := newFixture(t, 500, Options{BodyLimit: 64})
	body := fmt.Sprintf(`{"episode":1,"stats":{},"snapshot":{"pad":%q}}`, strings.Repeat("x", 128))

	res := f.do(http.MethodPost, "/snapshots", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
	assert.Zero(t, f.count(t))
}

func TestLatestEmpty(t *testing.T) {
	f := newFixture(t, 500, Options{})
	res := f.do(http.MethodGet, "/snapshots/latest", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"message":"No snapshots stored yet"}`, res.Body.String())
}

func TestTruncationKeepsNewest(t *testing.T) {
	const ceiling = 20
	f := newFixture(t, ceiling, Options{})

	var lastID string
	for i := 0; i < ceiling+5; i++ {
		res := f.do(http.MethodPost, "/snapshots", fmt.Sprintf(`{"episode":%d,"stats":{},"snapshot":{}}`, i))
		require.Equal(t, http.StatusCreated, res.Code)
		var receipt map[string]string
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &receipt))
		lastID = receipt["id"]
	}
	assert.Equal(t, ceiling, f.count(t))

	res := f.do(http.MethodGet, "/snapshots/latest", "")
	var latest map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &latest))
	assert.Equal(t, lastID, latest["id"])
	assert.Equal(t, float64(ceiling+4), latest["episode"])
}

func TestListReturnsNewestLastWithoutSnapshot(t *testing.T) {
	f := newFixture(t, 500, Options{})
	for i := 0; i < 10; i++ {
		body := fmt.Sprintf(`{"episode":%d,"stats":{"score":%d},"snapshot":{"epsilon":0.5}}`, i, i)
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/snapshots", body).Code)
	}

	res := f.do(http.MethodGet, "/snapshots?limit=3", "")
	require.Equal(t, http.StatusOK, res.Code)
	var page []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &page))
	require.Len(t, page, 3)
	for i, entry := range page {
		assert.NotContains(t, entry, "snapshot")
		assert.Equal(t, fmt.Sprint(7+i), string(entry["episode"]))
	}

	res = f.do(http.MethodGet, "/snapshots", "")
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &page))
	assert.Len(t, page, 10)

	res = f.do(http.MethodGet, "/snapshots?limit=0", "")
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &page))
	assert.Len(t, page, 1)
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t, 500, Options{})
	res := f.do(http.MethodGet, "/snapshots", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, res.Body.String())
}

func TestLegacyPrefix(t *testing.T) {
	f := newFixture(t, 500, Options{})
	body, _ := json.Marshal(map[string]any{
		"episode":  3,
		"stats":    map[string]any{"score": 1},
		"snapshot": map[string]any{"epsilon": 0.2},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/training-snapshots", bytes.NewReader(body))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusCreated, res.Code)

	res = f.do(http.MethodGet, "/api/training-snapshots/latest", "")
	assert.Equal(t, http.StatusOK, res.Code)
	res = f.do(http.MethodGet, "/snapshots/latest", "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, 500, Options{})
	res := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"status":"ok"`)
}

func TestNonJSONContentTypeFailsValidation(t *testing.T) {
	f := newFixture(t, 500, Options{})
	req := httptest.NewRequest(http.MethodPost, "/snapshots",
		strings.NewReader(`{"episode":1,"stats":{},"snapshot":{}}`))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"message":"episode must be a number"}`, res.Body.String())
	assert.Zero(t, f.count(t))
}
