package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/streaming"
)

// StreamingHandler serves SSE endpoints for tree progress events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// handleSSE streams events for a tree via Server-Sent Events.
// GET /stream/sse?tree_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	treeID := r.URL.Query().Get("tree_id")
	if treeID == "" {
		http.Error(w, `{"error":"tree_id required"}`, http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))

	// Last-Event-ID header or query param to replay from
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(treeID, 256)
	defer h.mgr.Unsubscribe(treeID, ch)

	fmt.Fprintf(w, ": connected to tree %s\n\n", treeID)
	flusher.Flush()

	// Replay backlog since lastID (best-effort within ring capacity)
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(treeID, lastID) {
			if !typeFilter.allows(ev.Type) {
				continue
			}
			writeSSEEvent(w, ev)
		}
		flusher.Flush()
	}

	// Heartbeat to keep connections alive through proxies
	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("tree_id", treeID))
			return
		case evt := <-ch:
			if !typeFilter.allows(evt.Type) {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}

// typeFilter restricts a stream to a comma-separated set of event types;
// empty means everything.
type typeFilter map[string]struct{}

func parseTypeFilter(s string) typeFilter {
	f := typeFilter{}
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f typeFilter) allows(t string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}
