package funnels

import (
	"advisor/utils"
	"net/http"
)

// GetConfig returns the public part of the funnel configuration: branding,
// texts, placeholders, videos and paths. Sheet, routing and timing settings
// are tagged out of the JSON form.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	utils.SendResponse(w, http.StatusOK, "", h.opts.Config, 0)
}
