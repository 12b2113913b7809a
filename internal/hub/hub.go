package hub

import (
	"context"
	"encoding/json"
	"log"

	"doodlecall-backend/internal/doodle"
	"doodlecall-backend/internal/model"
)

// Client-to-server event names.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventIceCandidate = "ice-candidate"
	EventMediaState   = "media-state"

	EventStrokeStart  = "doodle:stroke:start"
	EventStrokePoints = "doodle:stroke:points"
	EventStrokeEnd    = "doodle:stroke:end"
	EventStrokeUndo   = "doodle:stroke:undo"
	EventCanvasClear  = "doodle:canvas:clear"
	EventSyncRequest  = "doodle:sync:request"
)

// Server-to-client event names.
const (
	EventExistingParticipants = "existing-participants"
	EventNewPeer              = "new-peer"
	EventPeerDisconnect       = "peer-disconnect"
	EventPeerMediaState       = "peer-media-state"
	EventRoomUpdated          = "room-updated"
	EventRoomEnded            = "room-ended"
	EventServerError          = "server:error"
)

// RoomStore is the persisted-room boundary the lifecycle controller writes
// through. Failures are non-fatal: in-memory presence stays correct and the
// durable record self-heals on the next successful write.
type RoomStore interface {
	AddConnectedUser(ctx context.Context, code, userID string) (*model.Room, error)
	RemoveConnectedUser(ctx context.Context, code, userID string) (*model.Room, error)
	SetActive(ctx context.Context, code string, active bool) (*model.Room, error)
}

// JoinRoomPayload asks to join a room.
type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LeaveRoomPayload asks to leave a room.
type LeaveRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

// Participant identifies a room member for peer discovery.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
}

// SignalPayload carries an opaque SDP/ICE blob to one target connection.
type SignalPayload struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

// SignalRelayPayload is the forwarded form, tagged with the sender.
type SignalRelayPayload struct {
	Payload            json.RawMessage `json:"payload"`
	SenderConnectionID string          `json:"senderConnectionId"`
}

// MediaStatePayload announces local mute/camera state.
type MediaStatePayload struct {
	RoomCode     string `json:"roomCode"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// PeerMediaStatePayload is the room-broadcast form.
type PeerMediaStatePayload struct {
	ConnectionID string `json:"connectionId"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// Hub orchestrates session lifecycle, signaling relay and doodle dispatch
// for every websocket connection.
type Hub struct {
	registry  *Registry
	directory *Directory
	rooms     RoomStore
	engine    *doodle.Engine
}

// New creates a Hub
func New(registry *Registry, directory *Directory, rooms RoomStore, engine *doodle.Engine) *Hub {
	return &Hub{
		registry:  registry,
		directory: directory,
		rooms:     rooms,
		engine:    engine,
	}
}

// Registry exposes the presence registry (engine broadcasts route through it)
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcast sends an event to every connection in a room except one.
// An empty exceptConnID reaches the whole room.
func (h *Hub) Broadcast(roomCode, event string, payload any, exceptConnID string) {
	for _, m := range h.registry.Members(roomCode) {
		if m.ID == exceptConnID {
			continue
		}
		if err := m.Emit(event, payload); err != nil {
			log.Printf("[Hub] Failed to send %s to %s: %v", event, m.ID, err)
		}
	}
}

// ServeConn owns a connection from subscribe to teardown. It runs the read
// loop and dispatches messages in receipt order; abrupt transport loss exits
// the loop and funnels through the same leave path as an explicit leave.
func (h *Hub) ServeConn(ctx context.Context, c *Client) {
	h.directory.Subscribe(c)
	log.Printf("[Hub] Connected: %s (user %s)", c.ID, c.UserID)

	defer func() {
		h.Disconnect(ctx, c)
		c.Close()
		log.Printf("[Hub] Disconnected: %s (user %s)", c.ID, c.UserID)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		h.dispatch(ctx, c, &env)
	}
}

// dispatch routes one envelope. No handler error may crash the process; a
// panic is recovered, logged and reported best-effort to the sender.
func (h *Hub) dispatch(ctx context.Context, c *Client, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Hub] Handler panic on %s from %s: %v", env.Type, c.ID, r)
			c.Emit(EventServerError, map[string]string{"message": "Internal server error"})
		}
	}()

	switch env.Type {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.HandleJoin(ctx, c, &p)

	case EventLeaveRoom:
		var p LeaveRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.HandleLeave(ctx, c, p.RoomCode)

	case EventOffer, EventAnswer, EventIceCandidate:
		var p SignalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.Relay(c, env.Type, &p)

	case EventMediaState:
		var p MediaStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.HandleMediaState(c, &p)

	case EventStrokeStart:
		var p doodle.StrokeStartPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleStrokeStart(ctx, c, &p)

	case EventStrokePoints:
		var p doodle.StrokePointsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleStrokePoints(ctx, c, &p)

	case EventStrokeEnd:
		var p doodle.StrokeEndPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleStrokeEnd(ctx, c, &p)

	case EventStrokeUndo:
		var p doodle.StrokeUndoPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleStrokeUndo(ctx, c, &p)

	case EventCanvasClear:
		var p doodle.CanvasClearPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleCanvasClear(ctx, c, &p)

	case EventSyncRequest:
		var p doodle.SyncRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.engine.HandleSyncRequest(ctx, c, &p)

	default:
		log.Printf("[Hub] Unknown event %q from %s", env.Type, c.ID)
	}
}

// HandleJoin moves a connection into a room: presence registration, peer
// discovery, durable connected-user update, directory snapshot and stroke
// history replay for the joiner.
func (h *Hub) HandleJoin(ctx context.Context, c *Client, p *JoinRoomPayload) {
	if p.RoomCode == "" {
		return
	}

	// The payload carries identity for the wire contract, but the
	// authenticated claims win when the two disagree.
	if p.UserID != "" && p.UserID != c.UserID {
		log.Printf("[Hub] Join payload user %s != token user %s, using token", p.UserID, c.UserID)
	}

	// A connection owns at most one membership; joining while joined
	// leaves the previous room first.
	if prev := h.registry.RoomOf(c.ID); prev != "" && prev != p.RoomCode {
		h.HandleLeave(ctx, c, prev)
	}

	h.registry.Open(p.RoomCode)
	others := h.registry.Join(p.RoomCode, c)

	existing := make([]Participant, 0, len(others))
	for _, o := range others {
		existing = append(existing, Participant{ConnectionID: o.ID, UserID: o.UserID, Username: o.Username})
	}
	c.Emit(EventExistingParticipants, existing)

	joined := Participant{ConnectionID: c.ID, UserID: c.UserID, Username: c.Username}
	for _, o := range others {
		if err := o.Emit(EventNewPeer, joined); err != nil {
			log.Printf("[Hub] Failed to announce new peer to %s: %v", o.ID, err)
		}
	}

	log.Printf("[Hub] User %s joined room %s", c.Username, p.RoomCode)

	// Fire-and-forget: a failed durable write never unwinds presence.
	if room, err := h.rooms.AddConnectedUser(ctx, p.RoomCode, c.UserID); err != nil {
		log.Printf("[Hub] Failed to persist join for room %s: %v", p.RoomCode, err)
	} else {
		h.directory.PublishRoomUpdate(room)
	}

	h.engine.SyncTo(ctx, c, p.RoomCode)
}

// HandleLeave removes a connection from a room and tears the room down when
// it empties. Safe to call twice; leaving a room that has no presence entry
// is a no-op.
func (h *Hub) HandleLeave(ctx context.Context, c *Client, roomCode string) {
	if roomCode == "" {
		return
	}

	removed := h.registry.Leave(roomCode, c.ID)
	if removed == nil {
		return
	}

	if room, err := h.rooms.RemoveConnectedUser(ctx, roomCode, c.UserID); err != nil {
		log.Printf("[Hub] Failed to persist leave for room %s: %v", roomCode, err)
	} else {
		h.directory.PublishRoomUpdate(room)
	}

	h.Broadcast(roomCode, EventPeerDisconnect, map[string]string{"connectionId": c.ID}, c.ID)

	log.Printf("[Hub] User %s left room %s", c.Username, roomCode)

	if !h.registry.IsEmpty(roomCode) {
		return
	}

	h.registry.Close(roomCode)
	h.engine.DropRoom(roomCode)

	// The departing connection is the last former member still reachable.
	c.Emit(EventRoomEnded, nil)

	if room, err := h.rooms.SetActive(ctx, roomCode, false); err != nil {
		log.Printf("[Hub] Failed to mark room %s inactive: %v", roomCode, err)
	} else {
		h.directory.PublishRoomUpdate(room)
	}

	log.Printf("[Hub] Room %s ended", roomCode)
}

// Disconnect handles transport loss: same teardown as an explicit leave,
// exactly once, plus per-connection doodle state cleanup.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	if roomCode := h.registry.RoomOf(c.ID); roomCode != "" {
		h.HandleLeave(ctx, c, roomCode)
	}
	h.engine.DropConnection(c.ID)
	h.directory.Unsubscribe(c.ID)
}

// Relay forwards an offer/answer/ice-candidate payload verbatim to the
// target connection, tagged with the sender. A vanished target drops the
// message; negotiation repair belongs to the media layer.
func (h *Hub) Relay(c *Client, kind string, p *SignalPayload) {
	target := h.registry.Find(p.TargetConnectionID)
	if target == nil {
		log.Printf("[Hub] Relay %s dropped, target %s gone", kind, p.TargetConnectionID)
		return
	}

	out := SignalRelayPayload{Payload: p.Payload, SenderConnectionID: c.ID}
	if err := target.Emit(kind, out); err != nil {
		log.Printf("[Hub] Relay %s to %s failed: %v", kind, target.ID, err)
	}
}

// HandleMediaState broadcasts mute/camera changes to the rest of the room
func (h *Hub) HandleMediaState(c *Client, p *MediaStatePayload) {
	if p.RoomCode == "" {
		return
	}
	h.Broadcast(p.RoomCode, EventPeerMediaState, PeerMediaStatePayload{
		ConnectionID: c.ID,
		AudioEnabled: p.AudioEnabled,
		VideoEnabled: p.VideoEnabled,
	}, c.ID)
}
