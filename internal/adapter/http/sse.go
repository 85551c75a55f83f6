package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

type SSEHandler struct {
	eventBus  *service.EventBus
	pipelines PipelineService
}

func NewSSEHandler(eventBus *service.EventBus, pipelines PipelineService) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		pipelines: pipelines,
	}
}

func renderStatusHTML(view *service.PipelineView) (string, error) {
	var buf bytes.Buffer
	if err := PipelineStatus(view).Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendStatus writes the status fragment unless it is identical to last, and
// returns what the client now shows.
func sendStatus(w http.ResponseWriter, view *service.PipelineView, last string) (string, error) {
	html, err := renderStatusHTML(view)
	if err != nil {
		return last, err
	}
	if html == last {
		return last, nil
	}
	sseWrite(w, "status", html)
	return html, nil
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()

		// Subscribe before reading state so no transition falls in between.
		ch := h.eventBus.Subscribe(id)
		defer h.eventBus.Unsubscribe(id, ch)

		view, err := h.pipelines.Status(ctx, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		shown, _ := sendStatus(w, view, "")

		// Terminal pipelines send their final state and let the client close,
		// otherwise EventSource would reconnect forever.
		if view.Status != domain.PipelineStatusInProgress {
			<-ctx.Done()
			return
		}

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case _, ok := <-ch:
				if !ok {
					return
				}
				view, err := h.pipelines.Status(ctx, id)
				if err != nil {
					return
				}
				shown, _ = sendStatus(w, view, shown)

				if view.Status != domain.PipelineStatusInProgress {
					<-ctx.Done()
					return
				}
			}
		}
	}
}
