package leads

import (
	"advisor/funnel"
	"advisor/schemas"
	"advisor/utils"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Handler struct {
	persister funnel.Persister
	timeout   time.Duration
	logger    *slog.Logger
}

func NewHandler(persister funnel.Persister, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{persister: persister, timeout: timeout, logger: logger.With("component", "leads")}
}

type createOneRequest struct {
	SheetID string `json:"sheet_id"`
	Tab     string `json:"tab"`
	schemas.Lead
}

// CreateOne upserts a lead straight into a sheet, outside of any funnel
// session.
func (h *Handler) CreateOne(w http.ResponseWriter, r *http.Request) {
	input := createOneRequest{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.SendResponse(w, http.StatusBadRequest, "", nil, utils.LEADS_INVALID_REQUEST_DATA)
		return
	}

	target := schemas.SheetTarget{SheetID: strings.TrimSpace(input.SheetID), Tab: strings.TrimSpace(input.Tab)}
	if target.SheetID == "" {
		utils.SendResponse(w, http.StatusBadRequest, "ID da planilha ausente", nil, utils.LEADS_INVALID_REQUEST_DATA)
		return
	}
	if target.Tab == "" {
		target.Tab = schemas.DefaultSheetTab
	}
	if date := strings.TrimSpace(input.FollowupDate); date != "" && !utils.IsValidDate(date) {
		utils.SendResponse(w, http.StatusBadRequest, "Data de retorno inválida", nil, utils.LEADS_INVALID_REQUEST_DATA)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res := h.persister.Persist(ctx, target, input.Lead)
	switch res.Status {
	case schemas.PersistCreated:
		utils.SendResponse(w, http.StatusCreated, "", res, 0)
	case schemas.PersistUpdated:
		utils.SendResponse(w, http.StatusOK, "", res, 0)
	default:
		h.logger.Error("direct upsert", "sheet_id", target.SheetID, "status", res.Status, "error", res.Err)
		utils.SendResponse(w, http.StatusBadGateway, "", nil, utils.LEADS_CANNOT_PERSIST)
	}
}
