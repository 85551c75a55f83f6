package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxSubmitBytes = 1 << 20

type PipelineService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.PipelineRequest, error)
	Status(ctx context.Context, id string) (*service.PipelineView, error)
	Cancel(ctx context.Context, id string) (*domain.PipelineRequest, error)
}

type ResourceLister interface {
	Snapshot() []domain.Resource
}

type SubmitPipelineRequest struct {
	OwnerRef string              `json:"owner_ref"`
	UserRef  string              `json:"user_ref"`
	Kind     domain.PipelineKind `json:"kind"`
	Priority domain.Priority     `json:"priority,omitempty"`
	InputRef string              `json:"input_ref"`
	Stages   []domain.StageSpec  `json:"stages"`
	Output   domain.OutputSpec   `json:"output"`
}

type SubmitPipelineResponse struct {
	ID         string                `json:"id"`
	Status     domain.PipelineStatus `json:"status"`
	Priority   domain.Priority       `json:"priority"`
	CreditCost int64                 `json:"credit_cost"`
}

type ResourceResponse struct {
	ID                string               `json:"id"`
	Class             domain.CapacityClass `json:"class"`
	Health            domain.Health        `json:"health"`
	Slots             int                  `json:"slots"`
	InFlight          int                  `json:"in_flight"`
	TotalMemoryMB     int                  `json:"total_memory_mb"`
	AvailableMemoryMB int                  `json:"available_memory_mb"`
	BlacklistUntil    *time.Time           `json:"blacklist_until,omitempty"`
}

type ResourcesResponse struct {
	Resources []ResourceResponse `json:"resources"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func submitPipelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)

		var req SubmitPipelineRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.OwnerRef == "" {
			WriteError(w, http.StatusBadRequest, "owner_ref is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.Pipelines.Submit(r.Context(), service.SubmitRequest{
			OwnerRef: req.OwnerRef,
			UserRef:  req.UserRef,
			Kind:     req.Kind,
			Priority: req.Priority,
			InputRef: req.InputRef,
			Stages:   req.Stages,
			Output:   req.Output,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitPipelineResponse{
			ID:         p.ID,
			Status:     p.Status,
			Priority:   p.Priority,
			CreditCost: p.CreditCost,
		})
	}
}

func getPipelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := cfg.Pipelines.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func cancelPipelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := cfg.Pipelines.Cancel(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}

		view, err := cfg.Pipelines.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func listResourcesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resources := cfg.Resources.Snapshot()

		resp := ResourcesResponse{Resources: make([]ResourceResponse, len(resources))}
		for i, res := range resources {
			resp.Resources[i] = ResourceToResponse(res)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func ResourceToResponse(r domain.Resource) ResourceResponse {
	resp := ResourceResponse{
		ID:                r.ID,
		Class:             r.Class,
		Health:            r.Health,
		Slots:             r.Slots,
		InFlight:          r.InFlight,
		TotalMemoryMB:     r.TotalMemoryMB,
		AvailableMemoryMB: r.AvailableMemoryMB,
	}
	if r.Health == domain.HealthBlacklisted {
		until := r.BlacklistUntil.UTC()
		resp.BlacklistUntil = &until
	}
	return resp
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPipeline):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_PIPELINE")
	case errors.Is(err, domain.ErrInsufficientCredits):
		WriteError(w, http.StatusPaymentRequired, err.Error(), "INSUFFICIENT_CREDITS")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "pipeline not found", "NOT_FOUND")
	case errors.Is(err, domain.ErrPipelineClosed):
		WriteError(w, http.StatusConflict, err.Error(), "PIPELINE_CLOSED")
	default:
		logger.Error.Printf("request failed: %v", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
