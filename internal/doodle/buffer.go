package doodle

import (
	"sort"
	"sync"
	"time"

	"doodlecall-backend/internal/model"
)

// BufferEntry is the in-flight, not-yet-persisted twin of a stroke. Entries
// are keyed by stroke id, which is a globally unique client token, so the
// buffer is process-scoped rather than per room.
type BufferEntry struct {
	StrokeID  string
	RoomID    string
	UserID    string
	Color     string
	Width     int
	Points    []model.Point
	StartTime int64
	Meta      map[string]any

	lastTouched time.Time
}

// Buffer accumulates points of strokes currently being drawn.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]*BufferEntry

	now func() time.Time // overridable in tests
}

// NewBuffer creates an empty stroke buffer
func NewBuffer() *Buffer {
	return &Buffer{
		entries: make(map[string]*BufferEntry),
		now:     time.Now,
	}
}

// Start registers a new in-flight stroke with no points yet. Restarting an
// existing stroke id resets it.
func (b *Buffer) Start(strokeID, roomID, userID, color string, width int, meta map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[strokeID] = &BufferEntry{
		StrokeID:    strokeID,
		RoomID:      roomID,
		UserID:      userID,
		Color:       color,
		Width:       width,
		Points:      []model.Point{},
		StartTime:   b.now().UnixMilli(),
		Meta:        meta,
		lastTouched: b.now(),
	}
}

// Append adds points to an in-flight stroke in receipt order. Returns false
// when the stroke was never started (e.g. the buffer was lost on restart).
func (b *Buffer) Append(strokeID string, points []model.Point) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[strokeID]
	if !ok {
		return false
	}
	entry.Points = append(entry.Points, points...)
	entry.lastTouched = b.now()
	return true
}

// Take removes and returns the entry for a stroke id
func (b *Buffer) Take(strokeID string) (*BufferEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[strokeID]
	if ok {
		delete(b.entries, strokeID)
	}
	return entry, ok
}

// ByRoom returns the buffered strokes of a room as unfinished stroke records,
// sorted by start time ascending.
func (b *Buffer) ByRoom(roomID string) []model.DoodleStroke {
	b.mu.Lock()
	defer b.mu.Unlock()

	var strokes []model.DoodleStroke
	for _, e := range b.entries {
		if e.RoomID != roomID {
			continue
		}
		points := make([]model.Point, len(e.Points))
		copy(points, e.Points)
		strokes = append(strokes, model.DoodleStroke{
			StrokeID:  e.StrokeID,
			RoomID:    e.RoomID,
			UserID:    e.UserID,
			Color:     e.Color,
			Width:     e.Width,
			Points:    points,
			StartTime: e.StartTime,
			Meta:      e.Meta,
		})
	}

	sort.Slice(strokes, func(i, j int) bool {
		return strokes[i].StartTime < strokes[j].StartTime
	})
	return strokes
}

// SweepRoom drops every entry of a torn-down room
func (b *Buffer) SweepRoom(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, e := range b.entries {
		if e.RoomID == roomID {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// SweepIdle drops entries that have not received points within maxIdle.
// Abandoned strokes (client vanished between start and end) would otherwise
// accumulate without bound.
func (b *Buffer) SweepIdle(maxIdle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-maxIdle)
	removed := 0
	for id, e := range b.entries {
		if e.lastTouched.Before(cutoff) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of in-flight strokes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
