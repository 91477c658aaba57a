package funnels

import (
	"advisor/funnel"
	"advisor/utils"
	"encoding/json"
	"net/http"
)

func (h *Handler) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	form := funnel.IntakeForm{}
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.SendResponse(w, http.StatusBadRequest, "Dados inválidos", nil, 0)
		return
	}

	res, err := e.session.SubmitIntake(r.Context(), form)
	if err != nil {
		sendSessionError(w, err)
		return
	}
	if res.Failed() {
		h.logger.Warn("intake checkpoint failed", "session_id", e.session.ID(), "error", res.Err)
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}
