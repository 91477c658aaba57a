package funnels

import (
	"advisor/funnel"
	"advisor/schemas"
	"advisor/utils"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const SESSION_IDLE_TIMEOUT = 2 * time.Hour

type HandlerOptions struct {
	Config         *schemas.FunnelConfig
	Router         *funnel.Router
	Persister      funnel.Persister
	Clock          funnel.Clock
	Logger         *slog.Logger
	PersistTimeout time.Duration
}

type entry struct {
	session *funnel.Session
	engine  *wsEngine
}

// Handler serves the funnel sessions of this process. Sessions live in
// memory only; a restart of the process restarts every funnel.
type Handler struct {
	opts   HandlerOptions
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		opts:     opts,
		logger:   opts.Logger.With("component", "funnels"),
		sessions: make(map[string]*entry),
	}
}

func (h *Handler) newSession(id string, engine *wsEngine) (*funnel.Session, error) {
	session, err := funnel.NewSession(id, funnel.SessionOptions{
		Config:         h.opts.Config,
		Engine:         engine,
		Persister:      h.opts.Persister,
		Router:         h.opts.Router,
		Clock:          h.opts.Clock,
		Logger:         h.opts.Logger,
		PersistTimeout: h.opts.PersistTimeout,
	})
	if err != nil {
		return nil, err
	}
	session.Subscribe(engine.SendEvent)
	session.Start()
	return session, nil
}

func (h *Handler) create() (*entry, error) {
	id := uuid.NewString()
	engine := newWSEngine(h.logger.With("session_id", id))
	session, err := h.newSession(id, engine)
	if err != nil {
		return nil, err
	}
	e := &entry{session: session, engine: engine}

	h.mu.Lock()
	h.sessions[id] = e
	h.mu.Unlock()
	return e, nil
}

// restart replaces the session behind id with a fresh one at intake. The
// websocket engine is kept so a connected client stays attached.
func (h *Handler) restart(id string) (*entry, bool, error) {
	h.mu.Lock()
	old, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	old.session.Close()

	session, err := h.newSession(id, old.engine)
	if err != nil {
		return nil, true, err
	}
	e := &entry{session: session, engine: old.engine}

	h.mu.Lock()
	h.sessions[id] = e
	h.mu.Unlock()
	return e, true, nil
}

func (h *Handler) lookup(r *http.Request) (*entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[r.PathValue("id")]
	return e, ok
}

// Sweep closes sessions idle for longer than maxIdle.
func (h *Handler) Sweep(now time.Time, maxIdle time.Duration) int {
	h.mu.Lock()
	var stale []*entry
	for id, e := range h.sessions {
		if now.Sub(e.session.Snapshot().UpdatedAt) > maxIdle {
			stale = append(stale, e)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, e := range stale {
		e.session.Close()
		e.engine.Close()
	}
	return len(stale)
}

// Close ends every session and waits for their queued checkpoints.
func (h *Handler) Close() {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]*entry)
	h.mu.Unlock()

	for _, e := range all {
		e.session.Close()
		e.engine.Close()
	}
}

func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func sendSessionError(w http.ResponseWriter, err error) {
	var missing *funnel.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		utils.SendResponse(w, http.StatusUnprocessableEntity, "Campos obrigatórios ausentes: "+strings.Join(missing.Fields, ", "), missing.Fields, 0)
	case errors.Is(err, funnel.ErrUnknownPath):
		utils.SendResponse(w, http.StatusBadRequest, "Caminho desconhecido", nil, 0)
	case errors.Is(err, funnel.ErrSubmitInFlight):
		utils.SendResponse(w, http.StatusConflict, "Envio já em andamento", nil, 0)
	case errors.Is(err, funnel.ErrInvalidTransition):
		utils.SendResponse(w, http.StatusConflict, "Ação inválida para a etapa atual", nil, 0)
	case errors.Is(err, funnel.ErrSessionClosed):
		utils.SendResponse(w, http.StatusGone, "Sessão encerrada", nil, 0)
	default:
		utils.SendResponse(w, http.StatusInternalServerError, "", nil, utils.FUNNELS_CANNOT_CREATE_SESSION)
	}
}

func sendNotFound(w http.ResponseWriter) {
	utils.SendResponse(w, http.StatusNotFound, "Funil não encontrado", nil, 0)
}
