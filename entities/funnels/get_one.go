package funnels

import (
	"advisor/utils"
	"net/http"
)

func (h *Handler) GetOne(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}
