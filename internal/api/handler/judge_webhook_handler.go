package handler

import (
	"encoding/json"
	"net/http"

	"course_zone/internal/app/service"
	"course_zone/internal/common"

	"github.com/go-chi/chi/v5"
)

// JudgeWebhookHandler receives graded-submission callbacks from the judge.
// The endpoint sits outside user auth; deployments front it with a shared
// secret or network policy.
type JudgeWebhookHandler struct {
	partService *service.ParticipationService
}

func NewJudgeWebhookHandler(partService *service.ParticipationService) *JudgeWebhookHandler {
	return &JudgeWebhookHandler{partService: partService}
}

func (h *JudgeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/judged-submission", h.judgedSubmission)
}

func (h *JudgeWebhookHandler) judgedSubmission(w http.ResponseWriter, r *http.Request) {
	var payload service.JudgedSubmission
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid webhook payload: "+err.Error())
		return
	}
	if err := validate.Struct(payload); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	if err := h.partService.RecordJudgedSubmission(r.Context(), payload); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
