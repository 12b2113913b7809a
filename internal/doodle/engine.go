package doodle

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"doodlecall-backend/internal/model"
	"doodlecall-backend/internal/store"
)

// Server-to-client event names.
const (
	EventRemoteStrokeStart  = "doodle:remote:stroke:start"
	EventRemoteStrokePoints = "doodle:remote:stroke:points"
	EventRemoteStrokeEnd    = "doodle:remote:stroke:end"
	EventRemoteStrokeUndo   = "doodle:remote:stroke:undo"
	EventRemoteCanvasClear  = "doodle:remote:canvas:clear"
	EventSyncResponse       = "doodle:sync:response"
	EventError              = "doodle:error"
)

// Sender is one connected client, as the engine sees it.
type Sender interface {
	ConnID() string
	Emit(event string, payload any) error
}

// BroadcastFunc delivers an event to every connection in a room except the
// one identified by exceptConnID (empty string means everyone).
type BroadcastFunc func(roomID, event string, payload any, exceptConnID string)

// StrokeStore is the persistence gateway the engine depends on.
type StrokeStore interface {
	FindByRoom(ctx context.Context, roomID string, limit int, since int64) ([]model.DoodleStroke, error)
	Save(ctx context.Context, stroke *model.DoodleStroke) (*model.DoodleStroke, error)
	DeleteByRoom(ctx context.Context, roomID string) error
	DeleteOne(ctx context.Context, strokeID string) error
}

// StrokeStartPayload begins a stroke.
type StrokeStartPayload struct {
	RoomID   string         `json:"roomId"`
	StrokeID string         `json:"strokeId"`
	UserID   string         `json:"userId"`
	Color    string         `json:"color"`
	Width    int            `json:"width"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// StrokePointsPayload appends a batch of points to an in-flight stroke.
type StrokePointsPayload struct {
	RoomID   string        `json:"roomId"`
	StrokeID string        `json:"strokeId"`
	Points   []model.Point `json:"points"`
	Sequence int           `json:"sequence"`
}

// StrokeEndPayload finalizes a stroke.
type StrokeEndPayload struct {
	RoomID    string `json:"roomId"`
	StrokeID  string `json:"strokeId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// StrokeUndoPayload removes a stroke from history.
type StrokeUndoPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	StrokeID string `json:"strokeId"`
}

// CanvasClearPayload wipes the room's canvas.
type CanvasClearPayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Confirmed bool   `json:"confirmed"`
}

// SyncRequestPayload asks for stroke history.
type SyncRequestPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Since  int64  `json:"since,omitempty"`
}

// SyncResponsePayload is the unicast reply to a sync request.
type SyncResponsePayload struct {
	RoomID  string               `json:"roomId"`
	Strokes []model.DoodleStroke `json:"strokes"`
}

// ErrorPayload is surfaced to the originating connection only.
type ErrorPayload struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// Engine implements the stroke lifecycle protocol: start, points, end, undo,
// clear and sync. Broadcasts happen before persistence on the hot paths so a
// slow store never delays the live canvas.
type Engine struct {
	store     StrokeStore
	buffer    *Buffer
	limiter   *RateLimiter
	broadcast BroadcastFunc
	syncLimit int
}

// NewEngine creates a sync engine
func NewEngine(s StrokeStore, buffer *Buffer, limiter *RateLimiter, broadcast BroadcastFunc, syncLimit int) *Engine {
	return &Engine{
		store:     s,
		buffer:    buffer,
		limiter:   limiter,
		broadcast: broadcast,
		syncLimit: syncLimit,
	}
}

// Buffer exposes the stroke buffer for background sweeps
func (e *Engine) Buffer() *Buffer {
	return e.buffer
}

// HandleStrokeStart validates and buffers a new stroke, then announces it to
// the rest of the room. Rate-limited input is dropped silently so a flood
// does not amplify itself through error replies.
func (e *Engine) HandleStrokeStart(ctx context.Context, c Sender, payload *StrokeStartPayload) {
	if !e.limiter.Allow(c.ConnID()) {
		log.Printf("[Doodle] Rate limit exceeded for connection %s", c.ConnID())
		return
	}

	if errs := validateStrokeStart(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid stroke start payload", Errors: errs})
		return
	}

	payload.Color = SanitizeColor(payload.Color)
	payload.Width = SanitizeWidth(payload.Width)

	e.buffer.Start(payload.StrokeID, payload.RoomID, payload.UserID, payload.Color, payload.Width, payload.Meta)
	e.broadcast(payload.RoomID, EventRemoteStrokeStart, payload, c.ConnID())
}

// HandleStrokePoints appends a point batch and relays it unmodified. A batch
// for a stroke that was never started is relayed but not buffered: the buffer
// may have been lost to a restart and the live canvas should keep working.
func (e *Engine) HandleStrokePoints(ctx context.Context, c Sender, payload *StrokePointsPayload) {
	if !e.limiter.Allow(c.ConnID()) {
		log.Printf("[Doodle] Rate limit exceeded for connection %s", c.ConnID())
		return
	}

	if errs := validateStrokePoints(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid stroke points payload", Errors: errs})
		return
	}

	e.buffer.Append(payload.StrokeID, payload.Points)
	e.broadcast(payload.RoomID, EventRemoteStrokePoints, payload, c.ConnID())
}

// HandleStrokeEnd broadcasts the end immediately, then assembles and persists
// the stroke. The buffer entry is removed whether or not the save succeeds;
// durability here is at-most-once by design.
func (e *Engine) HandleStrokeEnd(ctx context.Context, c Sender, payload *StrokeEndPayload) {
	if !e.limiter.Allow(c.ConnID()) {
		log.Printf("[Doodle] Rate limit exceeded for connection %s", c.ConnID())
		return
	}

	if errs := validateStrokeEnd(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid stroke end payload", Errors: errs})
		return
	}

	e.broadcast(payload.RoomID, EventRemoteStrokeEnd, payload, c.ConnID())

	endTime := payload.Timestamp
	if endTime == 0 {
		endTime = time.Now().UnixMilli()
	}

	stroke := &model.DoodleStroke{
		StrokeID:  payload.StrokeID,
		RoomID:    payload.RoomID,
		UserID:    payload.UserID,
		Color:     DefaultColor,
		Width:     DefaultWidth,
		StartTime: time.Now().UnixMilli(),
		EndTime:   &endTime,
	}
	if entry, ok := e.buffer.Take(payload.StrokeID); ok {
		stroke.Color = entry.Color
		stroke.Width = entry.Width
		stroke.Points = entry.Points
		stroke.StartTime = entry.StartTime
		stroke.Meta = entry.Meta
	}

	if len(stroke.Points) == 0 {
		return
	}
	if len(stroke.Points) > MaxPointsPerStroke {
		stroke.Points = stroke.Points[:MaxPointsPerStroke]
	}

	if _, err := e.store.Save(ctx, stroke); err != nil {
		// History loses this stroke but the broadcast already went out.
		log.Printf("[Doodle] Failed to persist stroke %s: %v", payload.StrokeID, err)
	}
}

// HandleStrokeUndo relays the undo then deletes the persisted stroke. Any
// room member may undo any stroke; ownership is deliberately not enforced.
func (e *Engine) HandleStrokeUndo(ctx context.Context, c Sender, payload *StrokeUndoPayload) {
	if errs := validateStrokeUndo(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid undo payload", Errors: errs})
		return
	}

	e.broadcast(payload.RoomID, EventRemoteStrokeUndo, payload, c.ConnID())

	if err := e.store.DeleteOne(ctx, payload.StrokeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Emit(EventError, ErrorPayload{Message: "Stroke not found"})
			return
		}
		log.Printf("[Doodle] Failed to undo stroke %s: %v", payload.StrokeID, err)
		c.Emit(EventError, ErrorPayload{Message: "Failed to undo stroke"})
	}
}

// HandleCanvasClear wipes the room's history. The clear must carry an
// explicit confirmation; the broadcast includes the requester so every client
// clears idempotently.
func (e *Engine) HandleCanvasClear(ctx context.Context, c Sender, payload *CanvasClearPayload) {
	if errs := validateCanvasClear(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid canvas clear payload", Errors: errs})
		return
	}

	if !payload.Confirmed {
		c.Emit(EventError, ErrorPayload{Message: "Canvas clear must be confirmed"})
		return
	}

	e.broadcast(payload.RoomID, EventRemoteCanvasClear, payload, "")

	if err := e.store.DeleteByRoom(ctx, payload.RoomID); err != nil {
		log.Printf("[Doodle] Failed to clear strokes for room %s: %v", payload.RoomID, err)
	}
}

// HandleSyncRequest unicasts stroke history back to the requester.
func (e *Engine) HandleSyncRequest(ctx context.Context, c Sender, payload *SyncRequestPayload) {
	if errs := validateSyncRequest(payload); len(errs) > 0 {
		c.Emit(EventError, ErrorPayload{Message: "Invalid sync request payload", Errors: errs})
		return
	}

	e.syncTo(ctx, c, payload.RoomID, payload.Since)
}

// SyncTo replays stroke history to one connection; used for late joiners.
func (e *Engine) SyncTo(ctx context.Context, c Sender, roomID string) {
	e.syncTo(ctx, c, roomID, 0)
}

func (e *Engine) syncTo(ctx context.Context, c Sender, roomID string, since int64) {
	persisted, err := e.store.FindByRoom(ctx, roomID, e.syncLimit, since)
	if err != nil {
		log.Printf("[Doodle] Failed to fetch strokes for room %s: %v", roomID, err)
		c.Emit(EventError, ErrorPayload{Message: "Failed to sync strokes"})
		return
	}

	strokes := persisted
	for _, buffered := range e.buffer.ByRoom(roomID) {
		if since > 0 && buffered.StartTime <= since {
			continue
		}
		strokes = append(strokes, buffered)
	}

	sort.SliceStable(strokes, func(i, j int) bool {
		return strokes[i].StartTime < strokes[j].StartTime
	})
	if strokes == nil {
		strokes = []model.DoodleStroke{}
	}

	c.Emit(EventSyncResponse, SyncResponsePayload{RoomID: roomID, Strokes: strokes})
}

// DropConnection releases per-connection state after a disconnect
func (e *Engine) DropConnection(connID string) {
	e.limiter.Forget(connID)
}

// DropRoom releases buffered strokes of a torn-down room
func (e *Engine) DropRoom(roomID string) {
	if n := e.buffer.SweepRoom(roomID); n > 0 {
		log.Printf("[Doodle] Swept %d buffered strokes for room %s", n, roomID)
	}
}
