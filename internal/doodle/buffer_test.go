package doodle

import (
	"testing"
	"time"

	"doodlecall-backend/internal/model"
)

func pt(x, y float64, ts int64) model.Point {
	return model.Point{X: x, Y: y, T: ts}
}

func TestBuffer(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newBuffer := func() (*Buffer, *time.Time) {
		clock := base
		b := NewBuffer()
		b.now = func() time.Time { return clock }
		return b, &clock
	}

	t.Run("start append take round trip preserves order", func(t *testing.T) {
		b, _ := newBuffer()
		b.Start("s1", "room-1", "u1", "#FF0000", 4, nil)

		if !b.Append("s1", []model.Point{pt(0.1, 0.1, 1), pt(0.2, 0.2, 2)}) {
			t.Fatal("append to started stroke returned false")
		}
		if !b.Append("s1", []model.Point{pt(0.3, 0.3, 3)}) {
			t.Fatal("second append returned false")
		}

		entry, ok := b.Take("s1")
		if !ok {
			t.Fatal("take of buffered stroke returned false")
		}
		if entry.Color != "#FF0000" || entry.Width != 4 {
			t.Fatalf("entry color/width = %s/%d, want #FF0000/4", entry.Color, entry.Width)
		}
		if len(entry.Points) != 3 {
			t.Fatalf("entry has %d points, want 3", len(entry.Points))
		}
		for i, p := range entry.Points {
			if p.T != int64(i+1) {
				t.Fatalf("point %d has t=%d, want %d", i, p.T, i+1)
			}
		}

		if _, ok := b.Take("s1"); ok {
			t.Fatal("second take of same stroke returned true")
		}
	})

	t.Run("append to unknown stroke returns false", func(t *testing.T) {
		b, _ := newBuffer()
		if b.Append("never-started", []model.Point{pt(0.5, 0.5, 1)}) {
			t.Fatal("append to unknown stroke returned true")
		}
	})

	t.Run("restarting a stroke id resets its points", func(t *testing.T) {
		b, _ := newBuffer()
		b.Start("s1", "room-1", "u1", "#FF0000", 4, nil)
		b.Append("s1", []model.Point{pt(0.1, 0.1, 1)})

		b.Start("s1", "room-1", "u1", "#00FF00", 2, nil)
		entry, _ := b.Take("s1")
		if len(entry.Points) != 0 {
			t.Fatalf("restarted stroke has %d points, want 0", len(entry.Points))
		}
		if entry.Color != "#00FF00" {
			t.Fatalf("restarted stroke color = %s, want #00FF00", entry.Color)
		}
	})

	t.Run("by room returns only that room, start time ascending", func(t *testing.T) {
		b, clock := newBuffer()
		b.Start("s1", "room-1", "u1", "#000000", 3, nil)
		*clock = clock.Add(10 * time.Millisecond)
		b.Start("s2", "room-2", "u2", "#000000", 3, nil)
		*clock = clock.Add(10 * time.Millisecond)
		b.Start("s3", "room-1", "u1", "#000000", 3, nil)

		strokes := b.ByRoom("room-1")
		if len(strokes) != 2 {
			t.Fatalf("room-1 has %d buffered strokes, want 2", len(strokes))
		}
		if strokes[0].StrokeID != "s1" || strokes[1].StrokeID != "s3" {
			t.Fatalf("order = %s, %s, want s1, s3", strokes[0].StrokeID, strokes[1].StrokeID)
		}
		if strokes[0].StartTime >= strokes[1].StartTime {
			t.Fatal("strokes not in ascending start time order")
		}
	})

	t.Run("sweep room removes only that room", func(t *testing.T) {
		b, _ := newBuffer()
		b.Start("s1", "room-1", "u1", "#000000", 3, nil)
		b.Start("s2", "room-1", "u1", "#000000", 3, nil)
		b.Start("s3", "room-2", "u2", "#000000", 3, nil)

		if n := b.SweepRoom("room-1"); n != 2 {
			t.Fatalf("sweep removed %d, want 2", n)
		}
		if b.Len() != 1 {
			t.Fatalf("buffer has %d entries after sweep, want 1", b.Len())
		}
	})

	t.Run("sweep idle removes abandoned strokes only", func(t *testing.T) {
		b, clock := newBuffer()
		b.Start("stale", "room-1", "u1", "#000000", 3, nil)
		*clock = clock.Add(9 * time.Minute)
		b.Start("fresh", "room-1", "u1", "#000000", 3, nil)
		*clock = clock.Add(2 * time.Minute)

		if n := b.SweepIdle(10 * time.Minute); n != 1 {
			t.Fatalf("sweep removed %d, want 1", n)
		}
		if _, ok := b.Take("fresh"); !ok {
			t.Fatal("fresh stroke was swept")
		}
	})

	t.Run("appending refreshes the idle clock", func(t *testing.T) {
		b, clock := newBuffer()
		b.Start("s1", "room-1", "u1", "#000000", 3, nil)
		*clock = clock.Add(9 * time.Minute)
		b.Append("s1", []model.Point{pt(0.1, 0.1, 1)})
		*clock = clock.Add(5 * time.Minute)

		if n := b.SweepIdle(10 * time.Minute); n != 0 {
			t.Fatalf("sweep removed %d active strokes, want 0", n)
		}
	})
}
