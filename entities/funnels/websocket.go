package funnels

import (
	"advisor/schemas"
	"advisor/utils"
	"advisor/video"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const WS_WRITE_TIMEOUT = 5 * time.Second

const (
	WS_MESSAGE_PLAYER   = "player"
	WS_MESSAGE_EVENT    = "event"
	WS_MESSAGE_SNAPSHOT = "snapshot"

	WS_COMMAND_CREATE = "create"
	WS_COMMAND_LOAD   = "load"
	WS_COMMAND_STOP   = "stop"
	WS_COMMAND_UNMUTE = "unmute"

	WS_CLIENT_READY   = "ready"
	WS_CLIENT_STARTED = "started"
	WS_CLIENT_ENDED   = "ended"
)

var errNotConnected = errors.New("websocket: player not connected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsServerMessage struct {
	Type     string                  `json:"type"`
	Command  string                  `json:"command,omitempty"`
	Slot     video.Slot              `json:"slot,omitempty"`
	VideoID  string                  `json:"video_id,omitempty"`
	Event    *schemas.StepEvent      `json:"event,omitempty"`
	Snapshot *schemas.FunnelSnapshot `json:"snapshot,omitempty"`
}

type wsClientMessage struct {
	Type string     `json:"type"`
	Slot video.Slot `json:"slot,omitempty"`
}

// wsEngine is a video.Engine whose players live in the visitor's browser.
// It is ready once a client is connected and has reported its player API
// as loaded.
type wsEngine struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	players map[video.Slot]*wsPlayer

	writeMu sync.Mutex
}

type wsPlayer struct {
	engine   *wsEngine
	slot     video.Slot
	listener video.Listener

	mu      sync.Mutex
	videoID string
}

func newWSEngine(logger *slog.Logger) *wsEngine {
	return &wsEngine{
		logger:  logger,
		players: make(map[video.Slot]*wsPlayer),
	}
}

func (e *wsEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && e.ready
}

func (e *wsEngine) NewPlayer(slot video.Slot, videoID string, listener video.Listener) (video.Player, error) {
	p := &wsPlayer{engine: e, slot: slot, listener: listener, videoID: videoID}

	e.mu.Lock()
	e.players[slot] = p
	e.mu.Unlock()

	if err := e.send(wsServerMessage{Type: WS_MESSAGE_PLAYER, Command: WS_COMMAND_CREATE, Slot: slot, VideoID: videoID}); err != nil {
		e.mu.Lock()
		if e.players[slot] == p {
			delete(e.players, slot)
		}
		e.mu.Unlock()
		return nil, err
	}
	return p, nil
}

func (p *wsPlayer) Load(videoID string) error {
	p.mu.Lock()
	p.videoID = videoID
	p.mu.Unlock()
	return p.engine.send(wsServerMessage{Type: WS_MESSAGE_PLAYER, Command: WS_COMMAND_LOAD, Slot: p.slot, VideoID: videoID})
}

func (p *wsPlayer) Stop() error {
	return p.engine.send(wsServerMessage{Type: WS_MESSAGE_PLAYER, Command: WS_COMMAND_STOP, Slot: p.slot})
}

func (p *wsPlayer) Unmute() error {
	return p.engine.send(wsServerMessage{Type: WS_MESSAGE_PLAYER, Command: WS_COMMAND_UNMUTE, Slot: p.slot})
}

// SendEvent forwards session events to the connected client, if any.
func (e *wsEngine) SendEvent(ev schemas.StepEvent) {
	if err := e.send(wsServerMessage{Type: WS_MESSAGE_EVENT, Event: &ev}); err != nil && !errors.Is(err, errNotConnected) {
		e.logger.Debug("send step event", "error", err)
	}
}

func (e *wsEngine) send(msg wsServerMessage) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(WS_WRITE_TIMEOUT))
	return conn.WriteJSON(msg)
}

// attach makes conn the engine's client. A previous client is dropped.
func (e *wsEngine) attach(conn *websocket.Conn) {
	e.mu.Lock()
	old := e.conn
	e.conn = conn
	e.ready = false
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (e *wsEngine) detach(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
		e.ready = false
	}
	e.mu.Unlock()
	conn.Close()
}

// markReady flags the client as ready and recreates the players it may have
// lost on reconnect.
func (e *wsEngine) markReady() {
	e.mu.Lock()
	e.ready = true
	players := make([]*wsPlayer, 0, len(e.players))
	for _, p := range e.players {
		players = append(players, p)
	}
	e.mu.Unlock()

	for _, p := range players {
		p.mu.Lock()
		id := p.videoID
		p.mu.Unlock()
		if err := e.send(wsServerMessage{Type: WS_MESSAGE_PLAYER, Command: WS_COMMAND_CREATE, Slot: p.slot, VideoID: id}); err != nil {
			e.logger.Debug("recreate player", "slot", p.slot, "error", err)
		}
	}
}

// dispatch runs on the connection's read goroutine, never inside a Player
// call.
func (e *wsEngine) dispatch(msg wsClientMessage) {
	switch msg.Type {
	case WS_CLIENT_READY:
		e.markReady()
	case WS_CLIENT_STARTED, WS_CLIENT_ENDED:
		e.mu.Lock()
		p := e.players[msg.Slot]
		e.mu.Unlock()
		if p == nil {
			return
		}
		ev := video.EventStarted
		if msg.Type == WS_CLIENT_ENDED {
			ev = video.EventEnded
		}
		p.listener(ev)
	default:
		e.logger.Debug("unknown websocket message", "type", msg.Type)
	}
}

func (e *wsEngine) Close() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.ready = false
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// ServeWebSocket attaches the visitor's browser player to a funnel session.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(r)
	if !ok {
		sendNotFound(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.logger.Error("Não foi possível fazer upgrade para websocket", "error", err, "internal_code", utils.FUNNELS_CANNOT_UPGRADE_WEBSOCKET)
		return
	}

	engine := e.engine
	engine.attach(conn)
	defer engine.detach(conn)

	h.mu.RLock()
	current := h.sessions[e.session.ID()]
	h.mu.RUnlock()
	if current != nil {
		snapshot := current.session.Snapshot()
		if err := engine.send(wsServerMessage{Type: WS_MESSAGE_SNAPSHOT, Snapshot: &snapshot}); err != nil {
			return
		}
	}

	for {
		msg := wsClientMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", "session_id", e.session.ID(), "error", err)
			}
			return
		}
		engine.dispatch(msg)
	}
}
