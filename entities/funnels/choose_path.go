package funnels

import (
	"advisor/utils"
	"encoding/json"
	"net/http"
)

type choosePathRequest struct {
	Path string `json:"path"`
}

func (h *Handler) ChoosePath(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	body := choosePathRequest{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.SendResponse(w, http.StatusBadRequest, "Dados inválidos", nil, 0)
		return
	}

	if err := e.session.Choose(r.Context(), body.Path); err != nil {
		sendSessionError(w, err)
		return
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}
