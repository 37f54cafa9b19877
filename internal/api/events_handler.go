package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/tapemaint/internal/events"
)

const keepAliveInterval = 15 * time.Second

// eventFilter keeps events whose type equals, or is namespaced under, one of
// the requested names ("routine" matches "routine.failed"). Empty keeps all.
type eventFilter []string

func parseEventFilter(raw string) eventFilter {
	var f eventFilter
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f = append(f, part)
		}
	}
	return f
}

func (f eventFilter) keep(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, name := range f {
		if eventType == name || strings.HasPrefix(eventType, name+".") {
			return true
		}
	}
	return false
}

// resumePoint reads Last-Event-ID, or ?since= for clients that cannot set
// headers. Garbage resumes from the start of the ring.
func resumePoint(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type sseWriter struct {
	w io.Writer
	f http.Flusher
}

func (s sseWriter) send(ev events.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s sseWriter) ping() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents streams runner events as server-sent events, replaying what
// the client missed before switching to live delivery.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotImplemented, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := parseEventFilter(r.URL.Query().Get("types"))
	lastID := resumePoint(r)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	out := sseWriter{w: w, f: flusher}

	// Subscribe before replaying so nothing published in between is lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	deliver := func(ev events.Event) error {
		if ev.ID <= lastID {
			return nil
		}
		lastID = ev.ID
		if !filter.keep(ev.Type) {
			return nil
		}
		return out.send(ev)
	}

	for _, ev := range s.events.SnapshotSince(lastID) {
		if err := deliver(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := deliver(ev); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}
