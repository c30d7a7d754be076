package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/events"
)

const (
	wsReadLimit    = 512
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	sseHeartbeat   = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement belongs to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler fans session events out over websocket and SSE.
type StreamHandler struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewStreamHandler(bus *events.Bus, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, logger: logger}
}

func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/ws", h.handleWS)
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
}

// streamParams are the common query controls: the session to follow,
// an optional type filter, and the last seq already seen.
type streamParams struct {
	sessionID string
	types     map[string]struct{}
	lastSeq   uint64
}

func parseStreamParams(r *http.Request) (streamParams, bool) {
	p := streamParams{sessionID: r.URL.Query().Get("session_id")}
	if p.sessionID == "" {
		return p, false
	}
	if s := r.URL.Query().Get("types"); s != "" {
		p.types = map[string]struct{}{}
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastSeq = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastSeq == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastSeq = n
		}
	}
	return p, true
}

func (p streamParams) wants(evt events.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[string(evt.Type)]
	return ok
}

func (h *StreamHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	params, ok := parseStreamParams(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "session_id is required", "", "SESSION_ID_REQUIRED")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.bus.Subscribe(params.sessionID, 256)
	defer h.bus.Unsubscribe(params.sessionID, ch)

	if params.lastSeq > 0 {
		for _, evt := range h.bus.ReplaySince(params.sessionID, params.lastSeq) {
			if !params.wants(evt) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// Reader pump; client messages are discarded but reads surface
	// disconnects and feed the pong handler.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if !params.wants(evt) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	params, ok := parseStreamParams(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "session_id is required", "", "SESSION_ID_REQUIRED")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming not supported", "", "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.bus.Subscribe(params.sessionID, 256)
	defer h.bus.Unsubscribe(params.sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", params.sessionID)
	flusher.Flush()

	if params.lastSeq > 0 {
		for _, evt := range h.bus.ReplaySince(params.sessionID, params.lastSeq) {
			if params.wants(evt) {
				writeSSE(w, evt)
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", params.sessionID))
			return
		case evt := <-ch:
			if !params.wants(evt) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt events.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}
