package funnels

import (
	"advisor/funnel"
	"advisor/utils"
	"encoding/json"
	"net/http"
	"strings"
)

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	form := funnel.FeedbackForm{}
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.SendResponse(w, http.StatusBadRequest, "Dados inválidos", nil, 0)
		return
	}

	if date := strings.TrimSpace(form.FollowupDate); date != "" && !utils.IsValidDate(date) {
		utils.SendResponse(w, http.StatusBadRequest, "Data de retorno inválida", nil, 0)
		return
	}

	res, err := e.session.SubmitFeedback(r.Context(), form)
	if err != nil {
		sendSessionError(w, err)
		return
	}
	if res.Failed() {
		h.logger.Warn("final checkpoint failed", "session_id", e.session.ID(), "error", res.Err)
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}
