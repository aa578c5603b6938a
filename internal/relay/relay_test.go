package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/quietriver/chatrelay/internal/ai"
	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/logger"
	"github.com/quietriver/chatrelay/internal/room"
)

// scriptedProvider replays a fixed snapshot sequence, optionally
// failing instead of finishing.
type scriptedProvider struct {
	snaps []ai.Snapshot
	fail  error
}

func (p *scriptedProvider) Send(ctx context.Context, prompt, parent string, _ ai.Params) (<-chan ai.Snapshot, <-chan error) {
	snaps := make(chan ai.Snapshot)
	errs := make(chan error, 1)
	go func() {
		defer close(snaps)
		defer close(errs)
		for _, s := range p.snaps {
			select {
			case snaps <- s:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if p.fail != nil {
			errs <- p.fail
		}
	}()
	return snaps, errs
}

type staticParams struct{}

func (staticParams) ModelParameters(ctx context.Context) ai.Params {
	return ai.Params{Model: "test-model", BaseURL: "http://upstream"}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&room.Room{}, &room.Message{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, p ai.Provider) (*Service, *room.Repo) {
	t.Helper()
	rooms := room.NewRepo(db)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ai.Params) (ai.Provider, error) { return p, nil })
	return NewService(rooms, reg, "fake", staticParams{}, logger.Nop()), rooms
}

func TestSend_StreamsAndCommits(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "h"},
		{Text: "hi there", Done: true, MessageID: "99"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 42, 7, "x")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	var seen []Update
	res, err := svc.Send(ctx, Request{UserID: 42, RoomID: 7, UUID: 1, Prompt: "hi"}, func(u Update) error {
		seen = append(seen, u)
		return nil
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 snapshots at the sink, got %d", len(seen))
	}
	if seen[0].Text != "h" || seen[1].Text != "hi there" || !seen[1].Done {
		t.Fatalf("unexpected snapshots: %+v", seen)
	}
	if res.Text != "hi there" || res.MessageID != "99" {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, err := rooms.GetMessage(ctx, rm.ID, 1)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Response != "hi there" || got.Opt.MessageID != "99" {
		t.Fatalf("commit mismatch: response=%q messageId=%q", got.Response, got.Opt.MessageID)
	}
}

func TestSend_BufferedMatchesStreamed(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "par"},
		{Text: "partial and full", Done: true, MessageID: "m1"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	if _, err := rooms.CreateRoom(ctx, 1, 1, "r"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	var lastStreamed string
	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "p"}, func(u Update) error {
		lastStreamed = u.Text
		return nil
	}); err != nil {
		t.Fatalf("streamed send: %v", err)
	}

	res, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 2, Prompt: "p"}, nil)
	if err != nil {
		t.Fatalf("buffered send: %v", err)
	}
	if res.Text != lastStreamed {
		t.Fatalf("buffered %q != final streamed %q", res.Text, lastStreamed)
	}
}

func TestSend_UnknownRoom(t *testing.T) {
	db := openTestDB(t)
	svc, rooms := newTestService(t, db, &scriptedProvider{})
	ctx := context.Background()

	if _, err := rooms.CreateRoom(ctx, 42, 7, "theirs"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	// wrong owner and truly absent look identical
	for _, uid := range []uint64{13, 42} {
		roomID := int64(7)
		if uid == 42 {
			roomID = 8
		}
		_, err := svc.Send(ctx, Request{UserID: uid, RoomID: roomID, UUID: 1, Prompt: "hi"}, nil)
		if !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("uid=%d room=%d: expected not found, got %v", uid, roomID, err)
		}
	}
}

func TestSend_RegenerateReusesRow(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "first answer", Done: true, MessageID: "m1"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 1, 1, "r")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 9, Prompt: "q"}, nil); err != nil {
		t.Fatalf("first send: %v", err)
	}
	before, _ := rooms.ListMessages(ctx, rm.ID, 0, 0)

	prov.snaps = []ai.Snapshot{{Text: "second answer", Done: true, MessageID: "m2"}}
	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 9, Regenerate: true}, nil); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	after, _ := rooms.ListMessages(ctx, rm.ID, 0, 0)
	if len(after) != len(before) {
		t.Fatalf("regenerate changed row count: %d -> %d", len(before), len(after))
	}
	got, _ := rooms.GetMessage(ctx, rm.ID, 9)
	if got.Response != "second answer" || got.Opt.MessageID != "m2" {
		t.Fatalf("regenerate did not overwrite in place: %q %q", got.Response, got.Opt.MessageID)
	}
}

func TestSend_RegenerateMissingUUID(t *testing.T) {
	db := openTestDB(t)
	svc, rooms := newTestService(t, db, &scriptedProvider{})
	ctx := context.Background()

	if _, err := rooms.CreateRoom(ctx, 1, 1, "r"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 404, Regenerate: true}, nil)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSend_UpstreamErrorPreservesAnchor(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{
		snaps: []ai.Snapshot{{Text: "partial"}},
		fail:  errors.New("connection reset"),
	}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 1, 1, "r")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	var partials []string
	_, err = svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "q"}, func(u Update) error {
		partials = append(partials, u.Text)
		return nil
	})
	if !errors.Is(err, common.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(partials) != 1 || partials[0] != "partial" {
		t.Fatalf("partial output not delivered verbatim: %v", partials)
	}

	// The anchor row survives with an empty response, ready for a
	// manual regenerate.
	got, err := rooms.GetMessage(ctx, rm.ID, 1)
	if err != nil {
		t.Fatalf("anchor row lost: %v", err)
	}
	if got.Response != "" || got.Opt.MessageID != "" {
		t.Fatalf("failed stream must not commit: %q %q", got.Response, got.Opt.MessageID)
	}
}

func TestSend_SinkFailureCancelsWithoutCommit(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "a"},
		{Text: "ab"},
		{Text: "abc", Done: true, MessageID: "m1"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 1, 1, "r")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	sinkErr := errors.New("client went away")
	_, err = svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "q"}, func(u Update) error {
		return sinkErr
	})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}

	got, err := rooms.GetMessage(ctx, rm.ID, 1)
	if err != nil {
		t.Fatalf("anchor row lost: %v", err)
	}
	if got.Response != "" {
		t.Fatalf("aborted stream must not commit, got %q", got.Response)
	}
}

func TestSend_DuplicateInFlightUUID(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "ok", Done: true, MessageID: "m1"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	if _, err := rooms.CreateRoom(ctx, 1, 1, "r"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "q"}, nil); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "q again"}, nil)
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSend_ConcurrentDistinctUUIDs(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "done", Done: true, MessageID: "m"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 1, 1, "r")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for _, uuid := range []int64{101, 102} {
		wg.Add(1)
		go func(uuid int64) {
			defer wg.Done()
			_, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: uuid, Prompt: "q"}, nil)
			errsCh <- err
		}(uuid)
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		if err != nil {
			t.Fatalf("concurrent send failed: %v", err)
		}
	}

	msgs, err := rooms.ListMessages(ctx, rm.ID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both rows committed, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.Response != "done" {
			t.Fatalf("uuid %d not committed", m.UUID)
		}
	}
}

func TestSend_LinksNewTurnToLatestReply(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{snaps: []ai.Snapshot{
		{Text: "first", Done: true, MessageID: "up-1"},
	}}
	svc, rooms := newTestService(t, db, prov)
	ctx := context.Background()

	rm, err := rooms.CreateRoom(ctx, 1, 1, "r")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 1, Prompt: "q1"}, nil); err != nil {
		t.Fatalf("first send: %v", err)
	}

	prov.snaps = []ai.Snapshot{{Text: "second", Done: true, MessageID: "up-2"}}
	if _, err := svc.Send(ctx, Request{UserID: 1, RoomID: 1, UUID: 2, Prompt: "q2"}, nil); err != nil {
		t.Fatalf("second send: %v", err)
	}

	got, err := rooms.GetMessage(ctx, rm.ID, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Opt.ParentMessageID != "up-1" {
		t.Fatalf("second turn should continue from up-1, got %q", got.Opt.ParentMessageID)
	}
}
