package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arguslabs/argus/internal/routing"
	"github.com/arguslabs/argus/internal/store"
)

type memRoutingStore struct {
	mu   sync.Mutex
	rows map[string]store.RoutingRecord
}

func newMemRoutingStore() *memRoutingStore {
	return &memRoutingStore{rows: map[string]store.RoutingRecord{}}
}

func (s *memRoutingStore) UpsertRouting(_ context.Context, rec *store.RoutingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.Eye] = *rec
	return nil
}

func (s *memRoutingStore) GetRouting(_ context.Context, eye string) (*store.RoutingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[eye]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *memRoutingStore) ListRouting(_ context.Context) ([]store.RoutingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RoutingRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memRoutingStore) DeleteRouting(_ context.Context, eye string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, eye)
	return nil
}

func newRoutingServer(t *testing.T) (*httptest.Server, *routing.Table) {
	t.Helper()
	table, err := routing.New(context.Background(), newMemRoutingStore(), routing.Options{
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewRoutingHandler(table, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, table
}

func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(raw))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRoutingList(t *testing.T) {
	srv, _ := newRoutingServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/routing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Assignments []routing.Assignment `json:"assignments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Assignments, "built-in defaults cover every stage")

	byEye := map[string]routing.Assignment{}
	for _, a := range body.Assignments {
		byEye[string(a.Eye)] = a
	}
	assert.Contains(t, byEye, "clarify")
	assert.Contains(t, byEye, "approval")
	assert.Contains(t, byEye, "router")
}

func TestRoutingGetFallsBackToDefault(t *testing.T) {
	srv, _ := newRoutingServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/routing/clarify")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view assignmentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "default", view.Source)
	assert.NotEmpty(t, view.PrimaryProvider)
	assert.NotEmpty(t, view.PrimaryModel)
}

func TestRoutingPutThenDelete(t *testing.T) {
	srv, table := newRoutingServer(t)

	resp := putJSON(t, srv.URL+"/api/v1/routing/impl_review", map[string]any{
		"primary_provider": "anthropic",
		"primary_model":    "claude-sonnet-4",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view assignmentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "override", view.Source)
	assert.Equal(t, "anthropic", view.PrimaryProvider)

	// The table serves the override.
	a, err := table.Resolve("impl_review")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", a.PrimaryModel)

	// GET reflects it too.
	getResp, err := http.Get(srv.URL + "/api/v1/routing/impl_review")
	require.NoError(t, err)
	defer getResp.Body.Close()
	var got assignmentView
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, "override", got.Source)

	// DELETE reverts to the default.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/routing/impl_review", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	a, err = table.Resolve("impl_review")
	require.NoError(t, err)
	assert.NotEqual(t, "claude-sonnet-4", a.PrimaryModel)
}

func TestRoutingValidation(t *testing.T) {
	srv, _ := newRoutingServer(t)

	t.Run("unknown eye", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/routing/crystal-ball")
		require.NoError(t, err)
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "UNKNOWN_EYE", p.Code)
	})

	t.Run("missing primary pair", func(t *testing.T) {
		resp := putJSON(t, srv.URL+"/api/v1/routing/clarify", map[string]any{
			"primary_provider": "openai",
		})
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "ROUTING_INVALID", p.Code)
	})

	t.Run("partial fallback pair", func(t *testing.T) {
		resp := putJSON(t, srv.URL+"/api/v1/routing/clarify", map[string]any{
			"primary_provider":  "openai",
			"primary_model":     "gpt-4o-mini",
			"fallback_provider": "anthropic",
		})
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "ROUTING_INVALID", p.Code)
	})
}
