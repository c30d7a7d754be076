package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arguslabs/argus/internal/orchestrator"
	"github.com/arguslabs/argus/internal/session"
)

type stubTaskService struct {
	last   orchestrator.Request
	result *orchestrator.Result
	err    error
}

func (s *stubTaskService) SubmitTask(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &orchestrator.Result{
		SessionID: req.SessionID,
		Status:    session.StatusCompleted,
		Code:      "OK_APPROVED",
		Hops:      3,
	}, nil
}

type stubSessionReader struct {
	sessions map[string]*session.Session
	err      error
}

func (s *stubSessionReader) Get(ctx context.Context, id string) (*session.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func newTaskServer(t *testing.T, tasks *stubTaskService, sessions *stubSessionReader, limiter *SubmitLimiter) *httptest.Server {
	t.Helper()
	if sessions == nil {
		sessions = &stubSessionReader{sessions: map[string]*session.Session{}}
	}
	mux := http.NewServeMux()
	NewTaskHandler(tasks, sessions, limiter, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeProblem(t *testing.T, resp *http.Response) problem {
	t.Helper()
	defer resp.Body.Close()
	var p problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestSubmitTask(t *testing.T) {
	t.Run("completed run", func(t *testing.T) {
		tasks := &stubTaskService{}
		srv := newTaskServer(t, tasks, nil, nil)

		resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
			"task":       "implement the parser",
			"session_id": "sess-1",
			"strictness": "strict",
			"context":    map[string]any{"repo": "argus"},
		})
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "sess-1", resp.Header.Get("X-Session-ID"))

		var result orchestrator.Result
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "sess-1", result.SessionID)
		assert.Equal(t, session.StatusCompleted, result.Status)
		assert.Equal(t, "OK_APPROVED", result.Code)

		assert.Equal(t, "implement the parser", tasks.last.Task)
		assert.Equal(t, "strict", tasks.last.Config["strictness"])
		assert.Equal(t, "argus", tasks.last.Context["repo"])
	})

	t.Run("generates session id when omitted", func(t *testing.T) {
		tasks := &stubTaskService{}
		srv := newTaskServer(t, tasks, nil, nil)

		resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{"task": "review the plan"})
		resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, tasks.last.SessionID)
		assert.Equal(t, tasks.last.SessionID, resp.Header.Get("X-Session-ID"))
	})

	t.Run("missing task", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, nil, nil)

		resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{"session_id": "s"})
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "TASK_REQUIRED", p.Code)
		assert.Equal(t, http.StatusBadRequest, p.Status)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, nil, nil)

		resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json", bytes.NewReader([]byte("{nope")))
		require.NoError(t, err)
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_BODY", p.Code)
	})

	t.Run("invalid strictness", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, nil, nil)

		resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
			"task":       "do the thing",
			"strictness": "brutal",
		})
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_CONFIG", p.Code)
	})

	t.Run("order violation maps to conflict", func(t *testing.T) {
		tasks := &stubTaskService{err: orchestrator.ErrOrderViolation}
		srv := newTaskServer(t, tasks, nil, nil)

		resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{"task": "skip ahead"})
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, orchestrator.CodeOrderViolation, p.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		limiter := NewSubmitLimiter(1, 1)
		srv := newTaskServer(t, &stubTaskService{}, nil, limiter)

		body := map[string]any{"task": "again", "session_id": "hot"}
		resp := postJSON(t, srv.URL+"/api/v1/tasks", body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, srv.URL+"/api/v1/tasks", body)
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "RATE_LIMITED", p.Code)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, nil, nil)

		resp, err := http.Get(srv.URL + "/api/v1/tasks")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestGetSession(t *testing.T) {
	now := time.Now()
	reader := &stubSessionReader{sessions: map[string]*session.Session{
		"sess-9": {
			ID:        "sess-9",
			Task:      "validate the release notes",
			Status:    session.StatusPaused,
			CreatedAt: now,
			UpdatedAt: now,
			Hops:      4,
		},
	}}

	t.Run("found", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, reader, nil)

		resp, err := http.Get(srv.URL + "/api/v1/sessions/sess-9")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var sess session.Session
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
		assert.Equal(t, "sess-9", sess.ID)
		assert.Equal(t, session.StatusPaused, sess.Status)
		assert.Equal(t, 4, sess.Hops)
	})

	t.Run("not found", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, reader, nil)

		resp, err := http.Get(srv.URL + "/api/v1/sessions/missing")
		require.NoError(t, err)
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "SESSION_NOT_FOUND", p.Code)
	})

	t.Run("expired", func(t *testing.T) {
		srv := newTaskServer(t, &stubTaskService{}, &stubSessionReader{err: session.ErrExpired}, nil)

		resp, err := http.Get(srv.URL + "/api/v1/sessions/old")
		require.NoError(t, err)
		p := decodeProblem(t, resp)
		assert.Equal(t, http.StatusGone, resp.StatusCode)
		assert.Equal(t, "SESSION_EXPIRED", p.Code)
	})
}
