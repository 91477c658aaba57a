package funnels

import (
	"advisor/utils"
	"net/http"
)

// DeleteOne restarts the funnel: the lead collected so far is discarded and
// the visitor is back at intake.
func (h *Handler) DeleteOne(w http.ResponseWriter, r *http.Request) {
	e, found, err := h.restart(r.PathValue("id"))
	if !found {
		sendNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("restart funnel session", "error", err)
		utils.SendResponse(w, http.StatusInternalServerError, "", nil, utils.FUNNELS_CANNOT_CREATE_SESSION)
		return
	}

	utils.SendResponse(w, http.StatusOK, "Funil reiniciado", e.session.Snapshot(), 0)
}
