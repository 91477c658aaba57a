package funnels

import (
	"advisor/utils"
	"net/http"
)

// Skip is the visitor's manual skip (intro) or continue (path) button.
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	if err := e.session.Skip(); err != nil {
		sendSessionError(w, err)
		return
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	if err := e.session.Back(); err != nil {
		sendSessionError(w, err)
		return
	}

	utils.SendResponse(w, http.StatusOK, "", e.session.Snapshot(), 0)
}
