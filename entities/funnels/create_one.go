package funnels

import (
	"advisor/utils"
	"net/http"
)

func (h *Handler) CreateOne(w http.ResponseWriter, r *http.Request) {
	e, err := h.create()
	if err != nil {
		h.logger.Error("create funnel session", "error", err)
		utils.SendResponse(w, http.StatusInternalServerError, "", nil, utils.FUNNELS_CANNOT_CREATE_SESSION)
		return
	}

	utils.SendResponse(w, http.StatusCreated, "", e.session.Snapshot(), 0)
}
