package doodle

import (
	"context"
	"errors"
	"testing"
	"time"

	"doodlecall-backend/internal/model"
	"doodlecall-backend/internal/store"
)

const testStrokeID = "5e3c5ec5-6f6a-4e5e-8a11-3f2b6d9c0a71"

type fakeSender struct {
	id     string
	events []emitted
}

type emitted struct {
	event   string
	payload any
}

func (s *fakeSender) ConnID() string { return s.id }

func (s *fakeSender) Emit(event string, payload any) error {
	s.events = append(s.events, emitted{event: event, payload: payload})
	return nil
}

func (s *fakeSender) eventsOf(event string) []emitted {
	var out []emitted
	for _, e := range s.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeStrokeStore struct {
	persisted []model.DoodleStroke
	deleted   []string
	cleared   []string

	findErr   error
	deleteErr error
}

func (f *fakeStrokeStore) FindByRoom(ctx context.Context, roomID string, limit int, since int64) ([]model.DoodleStroke, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []model.DoodleStroke
	for _, s := range f.persisted {
		if s.RoomID != roomID || (since > 0 && s.StartTime <= since) {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStrokeStore) Save(ctx context.Context, stroke *model.DoodleStroke) (*model.DoodleStroke, error) {
	for _, s := range f.persisted {
		if s.StrokeID == stroke.StrokeID {
			return &s, nil
		}
	}
	f.persisted = append(f.persisted, *stroke)
	return stroke, nil
}

func (f *fakeStrokeStore) DeleteByRoom(ctx context.Context, roomID string) error {
	f.cleared = append(f.cleared, roomID)
	kept := f.persisted[:0]
	for _, s := range f.persisted {
		if s.RoomID != roomID {
			kept = append(kept, s)
		}
	}
	f.persisted = kept
	return nil
}

func (f *fakeStrokeStore) DeleteOne(ctx context.Context, strokeID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, s := range f.persisted {
		if s.StrokeID == strokeID {
			f.persisted = append(f.persisted[:i], f.persisted[i+1:]...)
			f.deleted = append(f.deleted, strokeID)
			return nil
		}
	}
	return store.ErrNotFound
}

type broadcastCall struct {
	roomID  string
	event   string
	payload any
	except  string
}

type broadcastLog struct {
	calls []broadcastCall
}

func (b *broadcastLog) fn() BroadcastFunc {
	return func(roomID, event string, payload any, exceptConnID string) {
		b.calls = append(b.calls, broadcastCall{roomID: roomID, event: event, payload: payload, except: exceptConnID})
	}
}

func (b *broadcastLog) of(event string) []broadcastCall {
	var out []broadcastCall
	for _, c := range b.calls {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

func newTestEngine(fs *fakeStrokeStore) (*Engine, *broadcastLog) {
	log := &broadcastLog{}
	engine := NewEngine(fs, NewBuffer(), NewRateLimiter(time.Second, 100), log.fn(), 200)
	return engine, log
}

func TestEngineStrokeLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start points end round trip persists the assembled stroke", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, log := newTestEngine(fs)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeStart(ctx, drawer, &StrokeStartPayload{
			RoomID:   "room-1",
			StrokeID: testStrokeID,
			UserID:   "u1",
			Color:    "#FF0000",
			Width:    4,
		})
		engine.HandleStrokePoints(ctx, drawer, &StrokePointsPayload{
			RoomID:   "room-1",
			StrokeID: testStrokeID,
			Points:   []model.Point{pt(0.1, 0.1, 1), pt(0.2, 0.2, 2)},
		})
		engine.HandleStrokePoints(ctx, drawer, &StrokePointsPayload{
			RoomID:   "room-1",
			StrokeID: testStrokeID,
			Points:   []model.Point{pt(0.3, 0.3, 3)},
			Sequence: 1,
		})
		engine.HandleStrokeEnd(ctx, drawer, &StrokeEndPayload{
			RoomID:   "room-1",
			StrokeID: testStrokeID,
			UserID:   "u1",
		})

		if got := len(log.of(EventRemoteStrokeStart)); got != 1 {
			t.Fatalf("%d start broadcasts, want 1", got)
		}
		if got := len(log.of(EventRemoteStrokePoints)); got != 2 {
			t.Fatalf("%d points broadcasts, want 2", got)
		}
		ends := log.of(EventRemoteStrokeEnd)
		if len(ends) != 1 {
			t.Fatalf("%d end broadcasts, want 1", len(ends))
		}
		if ends[0].except != "conn-a" {
			t.Fatalf("end broadcast excepts %q, want conn-a", ends[0].except)
		}

		if len(fs.persisted) != 1 {
			t.Fatalf("%d strokes persisted, want 1", len(fs.persisted))
		}
		saved := fs.persisted[0]
		if saved.Color != "#FF0000" || saved.Width != 4 {
			t.Fatalf("persisted color/width = %s/%d, want #FF0000/4", saved.Color, saved.Width)
		}
		if len(saved.Points) != 3 {
			t.Fatalf("persisted stroke has %d points, want 3", len(saved.Points))
		}
		if saved.EndTime == nil || *saved.EndTime <= 0 {
			t.Fatal("persisted stroke has no end time")
		}
		if engine.Buffer().Len() != 0 {
			t.Fatal("buffer entry left behind after end")
		}

		viewer := &fakeSender{id: "conn-c"}
		engine.SyncTo(ctx, viewer, "room-1")
		resp := viewer.eventsOf(EventSyncResponse)[0].payload.(SyncResponsePayload)
		if len(resp.Strokes) != 1 {
			t.Fatalf("sync carries %d strokes, want 1", len(resp.Strokes))
		}
		synced := resp.Strokes[0]
		if synced.Color != "#FF0000" || synced.Width != 4 || len(synced.Points) != 3 {
			t.Fatalf("synced stroke = %s/%d with %d points, want #FF0000/4 with 3", synced.Color, synced.Width, len(synced.Points))
		}
		for i, p := range synced.Points {
			if p.T != int64(i+1) {
				t.Fatalf("synced point %d has t=%d, want receipt order preserved", i, p.T)
			}
		}
	})

	t.Run("end without any points persists nothing", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, _ := newTestEngine(fs)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeStart(ctx, drawer, &StrokeStartPayload{
			RoomID: "room-1", StrokeID: testStrokeID, UserID: "u1", Color: "#FF0000", Width: 4,
		})
		engine.HandleStrokeEnd(ctx, drawer, &StrokeEndPayload{
			RoomID: "room-1", StrokeID: testStrokeID, UserID: "u1",
		})

		if len(fs.persisted) != 0 {
			t.Fatalf("%d strokes persisted, want 0", len(fs.persisted))
		}
	})

	t.Run("end without buffer entry still broadcasts but saves nothing", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, log := newTestEngine(fs)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeEnd(ctx, drawer, &StrokeEndPayload{
			RoomID: "room-1", StrokeID: testStrokeID, UserID: "u1",
		})

		if got := len(log.of(EventRemoteStrokeEnd)); got != 1 {
			t.Fatalf("%d end broadcasts, want 1", got)
		}
		if len(fs.persisted) != 0 {
			t.Fatalf("%d strokes persisted, want 0", len(fs.persisted))
		}
	})

	t.Run("start broadcasts the accepted payload to the room", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, log := newTestEngine(fs)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeStart(ctx, drawer, &StrokeStartPayload{
			RoomID: "room-1", StrokeID: testStrokeID, UserID: "u1", Color: "#00FF00", Width: 50,
		})

		starts := log.of(EventRemoteStrokeStart)
		if len(starts) != 1 {
			t.Fatalf("%d start broadcasts, want 1", len(starts))
		}
		p := starts[0].payload.(*StrokeStartPayload)
		if p.Color != "#00FF00" || p.Width != 50 {
			t.Fatalf("broadcast color/width = %s/%d, want #00FF00/50", p.Color, p.Width)
		}
	})

	t.Run("invalid start rejected with field errors, nothing broadcast", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, log := newTestEngine(fs)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeStart(ctx, drawer, &StrokeStartPayload{
			RoomID: "room-1", StrokeID: "bogus", UserID: "u1", Color: "#FF0000", Width: 4,
		})

		if len(log.calls) != 0 {
			t.Fatalf("%d broadcasts after invalid start, want 0", len(log.calls))
		}
		errs := drawer.eventsOf(EventError)
		if len(errs) != 1 {
			t.Fatalf("%d error events, want 1", len(errs))
		}
		ep := errs[0].payload.(ErrorPayload)
		if len(ep.Errors) == 0 {
			t.Fatal("error event carries no field errors")
		}
	})
}

func TestEngineRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("over limit events are dropped silently", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		log := &broadcastLog{}
		engine := NewEngine(fs, NewBuffer(), NewRateLimiter(time.Second, 2), log.fn(), 200)
		drawer := &fakeSender{id: "conn-a"}

		engine.HandleStrokeStart(ctx, drawer, &StrokeStartPayload{
			RoomID: "room-1", StrokeID: testStrokeID, UserID: "u1", Color: "#FF0000", Width: 4,
		})
		for i := 0; i < 3; i++ {
			engine.HandleStrokePoints(ctx, drawer, &StrokePointsPayload{
				RoomID:   "room-1",
				StrokeID: testStrokeID,
				Points:   []model.Point{pt(0.1, 0.1, int64(i + 1))},
				Sequence: i,
			})
		}

		// Capacity 2: the start plus the first points batch; the rest drop.
		if got := len(log.of(EventRemoteStrokePoints)); got != 1 {
			t.Fatalf("%d points broadcasts, want 1", got)
		}
		if len(drawer.eventsOf(EventError)) != 0 {
			t.Fatal("rate-limited events produced error replies, want silent drop")
		}
	})
}

func TestEngineUndo(t *testing.T) {
	ctx := context.Background()

	t.Run("undo relays then deletes the persisted stroke", func(t *testing.T) {
		fs := &fakeStrokeStore{persisted: []model.DoodleStroke{
			{StrokeID: testStrokeID, RoomID: "room-1", UserID: "u1", StartTime: 100},
		}}
		engine, log := newTestEngine(fs)
		member := &fakeSender{id: "conn-b"}

		// Not the stroke owner; undo is open to every room member.
		engine.HandleStrokeUndo(ctx, member, &StrokeUndoPayload{
			RoomID: "room-1", UserID: "u2", StrokeID: testStrokeID,
		})

		if got := len(log.of(EventRemoteStrokeUndo)); got != 1 {
			t.Fatalf("%d undo broadcasts, want 1", got)
		}
		if len(fs.deleted) != 1 || fs.deleted[0] != testStrokeID {
			t.Fatalf("deleted = %v, want [%s]", fs.deleted, testStrokeID)
		}
	})

	t.Run("undo of unknown stroke reports not found", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, _ := newTestEngine(fs)
		member := &fakeSender{id: "conn-b"}

		engine.HandleStrokeUndo(ctx, member, &StrokeUndoPayload{
			RoomID: "room-1", UserID: "u2", StrokeID: testStrokeID,
		})

		errs := member.eventsOf(EventError)
		if len(errs) != 1 {
			t.Fatalf("%d error events, want 1", len(errs))
		}
		if msg := errs[0].payload.(ErrorPayload).Message; msg != "Stroke not found" {
			t.Fatalf("error message = %q, want %q", msg, "Stroke not found")
		}
	})
}

func TestEngineCanvasClear(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfirmed clear deletes nothing", func(t *testing.T) {
		fs := &fakeStrokeStore{persisted: []model.DoodleStroke{
			{StrokeID: testStrokeID, RoomID: "room-1", StartTime: 100},
		}}
		engine, log := newTestEngine(fs)
		member := &fakeSender{id: "conn-a"}

		engine.HandleCanvasClear(ctx, member, &CanvasClearPayload{
			RoomID: "room-1", UserID: "u1", Confirmed: false,
		})

		if len(fs.cleared) != 0 {
			t.Fatal("unconfirmed clear reached the store")
		}
		if len(log.calls) != 0 {
			t.Fatal("unconfirmed clear was broadcast")
		}
		if len(member.eventsOf(EventError)) != 1 {
			t.Fatal("unconfirmed clear produced no error reply")
		}
	})

	t.Run("confirmed clear reaches the whole room including the requester", func(t *testing.T) {
		fs := &fakeStrokeStore{persisted: []model.DoodleStroke{
			{StrokeID: testStrokeID, RoomID: "room-1", StartTime: 100},
		}}
		engine, log := newTestEngine(fs)
		member := &fakeSender{id: "conn-a"}

		engine.HandleCanvasClear(ctx, member, &CanvasClearPayload{
			RoomID: "room-1", UserID: "u1", Confirmed: true,
		})

		clears := log.of(EventRemoteCanvasClear)
		if len(clears) != 1 {
			t.Fatalf("%d clear broadcasts, want 1", len(clears))
		}
		if clears[0].except != "" {
			t.Fatalf("clear broadcast excepts %q, want nobody", clears[0].except)
		}
		if len(fs.persisted) != 0 {
			t.Fatal("persisted strokes survived a confirmed clear")
		}
	})
}

func TestEngineSync(t *testing.T) {
	ctx := context.Background()

	t.Run("sync merges persisted and buffered strokes ascending", func(t *testing.T) {
		fs := &fakeStrokeStore{persisted: []model.DoodleStroke{
			{StrokeID: "a", RoomID: "room-1", StartTime: 100},
			{StrokeID: "c", RoomID: "room-1", StartTime: 300},
		}}
		engine, _ := newTestEngine(fs)
		engine.Buffer().now = func() time.Time { return time.UnixMilli(200) }
		engine.Buffer().Start("b", "room-1", "u1", "#000000", 3, nil)

		requester := &fakeSender{id: "conn-a"}
		engine.HandleSyncRequest(ctx, requester, &SyncRequestPayload{RoomID: "room-1", UserID: "u1"})

		responses := requester.eventsOf(EventSyncResponse)
		if len(responses) != 1 {
			t.Fatalf("%d sync responses, want 1", len(responses))
		}
		resp := responses[0].payload.(SyncResponsePayload)
		if len(resp.Strokes) != 3 {
			t.Fatalf("sync carries %d strokes, want 3", len(resp.Strokes))
		}
		for i, want := range []string{"a", "b", "c"} {
			if resp.Strokes[i].StrokeID != want {
				t.Fatalf("stroke %d = %s, want %s", i, resp.Strokes[i].StrokeID, want)
			}
		}
	})

	t.Run("since filters both persisted and buffered strokes", func(t *testing.T) {
		fs := &fakeStrokeStore{persisted: []model.DoodleStroke{
			{StrokeID: "old", RoomID: "room-1", StartTime: 100},
			{StrokeID: "new", RoomID: "room-1", StartTime: 300},
		}}
		engine, _ := newTestEngine(fs)

		requester := &fakeSender{id: "conn-a"}
		engine.HandleSyncRequest(ctx, requester, &SyncRequestPayload{RoomID: "room-1", UserID: "u1", Since: 200})

		resp := requester.eventsOf(EventSyncResponse)[0].payload.(SyncResponsePayload)
		if len(resp.Strokes) != 1 || resp.Strokes[0].StrokeID != "new" {
			t.Fatalf("strokes = %v, want only the stroke after since", resp.Strokes)
		}
	})

	t.Run("empty history yields an empty array, not null", func(t *testing.T) {
		fs := &fakeStrokeStore{}
		engine, _ := newTestEngine(fs)

		requester := &fakeSender{id: "conn-a"}
		engine.SyncTo(ctx, requester, "room-1")

		resp := requester.eventsOf(EventSyncResponse)[0].payload.(SyncResponsePayload)
		if resp.Strokes == nil {
			t.Fatal("sync response strokes is nil, want empty slice")
		}
		if len(resp.Strokes) != 0 {
			t.Fatalf("sync carries %d strokes, want 0", len(resp.Strokes))
		}
	})

	t.Run("store failure reports a sync error", func(t *testing.T) {
		fs := &fakeStrokeStore{findErr: errors.New("connection refused")}
		engine, _ := newTestEngine(fs)

		requester := &fakeSender{id: "conn-a"}
		engine.SyncTo(ctx, requester, "room-1")

		if len(requester.eventsOf(EventError)) != 1 {
			t.Fatal("store failure produced no error reply")
		}
		if len(requester.eventsOf(EventSyncResponse)) != 0 {
			t.Fatal("sync response sent despite store failure")
		}
	})
}

func TestEngineTeardown(t *testing.T) {
	t.Run("drop room sweeps its buffered strokes", func(t *testing.T) {
		engine, _ := newTestEngine(&fakeStrokeStore{})
		engine.Buffer().Start("s1", "room-1", "u1", "#000000", 3, nil)
		engine.Buffer().Start("s2", "room-2", "u2", "#000000", 3, nil)

		engine.DropRoom("room-1")

		if engine.Buffer().Len() != 1 {
			t.Fatalf("buffer has %d entries after drop, want 1", engine.Buffer().Len())
		}
	})
}
