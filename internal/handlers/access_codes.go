package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/platform/auth"
	"github.com/vastramart/api/internal/platform/httpx"
	"github.com/vastramart/api/internal/services"
)

const maxAccessCodeBodySize = 4 * 1024

// AccessCodeHandlers exposes the admin console access code endpoints.
type AccessCodeHandlers struct {
	codes services.AccessCodeService
}

// NewAccessCodeHandlers constructs a new AccessCodeHandlers instance.
func NewAccessCodeHandlers(codes services.AccessCodeService) *AccessCodeHandlers {
	return &AccessCodeHandlers{codes: codes}
}

// Routes registers the /access-codes endpoints.
func (h *AccessCodeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/access-codes", h.issue)
	r.Post("/access-codes/consume", h.consume)
}

type issueAccessCodeRequest struct {
	IssuedTo   string `json:"issued_to"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type consumeAccessCodeRequest struct {
	Code string `json:"code"`
}

type accessCodePayload struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	IssuedTo   string `json:"issued_to"`
	IssuedAt   string `json:"issued_at"`
	ExpiresAt  string `json:"expires_at"`
	ConsumedAt string `json:"consumed_at,omitempty"`
}

type accessCodeResponse struct {
	AccessCode accessCodePayload `json:"access_code"`
}

func (h *AccessCodeHandlers) issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAccessCodeBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req issueAccessCodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	code, err := h.codes.Issue(ctx, services.IssueAccessCodeCommand{
		IssuedTo: strings.TrimSpace(req.IssuedTo),
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
		Actor:    actor,
	})
	if err != nil {
		writeAccessCodeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, accessCodeResponse{AccessCode: buildAccessCodePayload(code)})
}

func (h *AccessCodeHandlers) consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAccessCodeBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req consumeAccessCodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	code, err := h.codes.Consume(ctx, req.Code, actor)
	if err != nil {
		writeAccessCodeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, accessCodeResponse{AccessCode: buildAccessCodePayload(code)})
}

func (h *AccessCodeHandlers) requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	if h.codes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("access_code_service_unavailable", "access code service unavailable", http.StatusServiceUnavailable))
		return services.Actor{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actorFromIdentity(identity), true
}

func buildAccessCodePayload(code domain.AccessCode) accessCodePayload {
	return accessCodePayload{
		ID:         code.ID,
		Code:       code.Code,
		IssuedTo:   code.IssuedTo,
		IssuedAt:   formatTime(code.IssuedAt),
		ExpiresAt:  formatTime(code.ExpiresAt),
		ConsumedAt: formatTime(pointerTime(code.ConsumedAt)),
	}
}

func writeAccessCodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAccessCodeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAccessCodeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("access_code_not_found", "access code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAccessCodeUnusable):
		httpx.WriteError(ctx, w, httpx.NewError("access_code_unusable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAccessCodeUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "not allowed", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("access_code_error", "failed to process access code request", http.StatusInternalServerError))
	}
}
