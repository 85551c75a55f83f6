package http

import (
	"net/http"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// StatusFrame is one websocket message: the event that triggered it, if any,
// and the pipeline state after it.
type StatusFrame struct {
	Event    *service.Event        `json:"event,omitempty"`
	Pipeline *service.PipelineView `json:"pipeline"`
}

type WSHandler struct {
	eventBus  *service.EventBus
	pipelines PipelineService
	upgrader  websocket.Upgrader
}

func NewWSHandler(eventBus *service.EventBus, pipelines PipelineService) *WSHandler {
	return &WSHandler{
		eventBus:  eventBus,
		pipelines: pipelines,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *WSHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		ch := h.eventBus.Subscribe(id)
		defer h.eventBus.Unsubscribe(id, ch)

		view, err := h.pipelines.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn.Printf("websocket upgrade failed for pipeline %s: %v", id, err)
			return
		}
		defer conn.Close() //nolint:errcheck

		// Reading is only needed to notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(frame StatusFrame) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug.Printf("websocket write for pipeline %s failed: %v", id, err)
				return false
			}
			return true
		}
		finish := func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(view.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		}

		if !send(StatusFrame{Pipeline: view}) {
			return
		}
		if view.Status != domain.PipelineStatusInProgress {
			finish()
			return
		}

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				view, err = h.pipelines.Status(r.Context(), id)
				if err != nil {
					return
				}
				if !send(StatusFrame{Event: &event, Pipeline: view}) {
					return
				}
				if view.Status != domain.PipelineStatusInProgress {
					finish()
					return
				}
			}
		}
	}
}
