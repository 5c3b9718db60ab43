// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/llm"
	"github.com/curioswitch/clinicchat/server/internal/messages"
	"github.com/curioswitch/clinicchat/server/internal/notifier"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
	"github.com/curioswitch/clinicchat/server/internal/store"
	"github.com/curioswitch/clinicchat/server/internal/summarizer"
)

var (
	alice = clinicchatdb.User{ID: "alice", Name: "Alice", Role: clinicchatdb.RoleDoctor}
	bob   = clinicchatdb.User{ID: "bob", Name: "Bob", Role: clinicchatdb.RoleStaff}
)

type env struct {
	store     *store.Memory
	directory *rooms.Directory
	stream    *messages.Stream
	sum       *summarizer.Summarizer

	mu  sync.Mutex
	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store: store.NewMemory(),
		now:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	d, err := rooms.NewDirectory(e.store,
		rooms.WithRetryBackOff(&backoff.ZeroBackOff{}),
		rooms.WithClock(func() time.Time {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.now = e.now.Add(time.Minute)
			return e.now
		}))
	require.NoError(t, err)
	e.directory = d
	e.stream = messages.NewStream(e.store, notifier.Nop{})
	e.sum = summarizer.New(llm.Unconfigured{})
	return e
}

type client struct {
	t        *testing.T
	commands chan Command
	events   chan Event
	done     chan error
	cancel   context.CancelFunc
}

func (e *env) connect(t *testing.T, user clinicchatdb.User) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		t:        t,
		commands: make(chan Command),
		events:   make(chan Event, 64),
		done:     make(chan error, 1),
		cancel:   cancel,
	}
	s := New(e.directory, e.stream, e.sum, user)
	go func() {
		c.done <- s.Run(ctx, c.commands, c.events)
	}()
	t.Cleanup(func() {
		cancel()
		<-c.done
	})
	return c
}

func (c *client) send(cmd Command) {
	c.t.Helper()
	select {
	case c.commands <- cmd:
	case <-time.After(5 * time.Second):
		require.FailNow(c.t, "timed out sending command")
	}
}

// next returns the first event matching cond, skipping others.
func (c *client) next(cond func(Event) bool) Event {
	c.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-c.events:
			if cond(e) {
				return e
			}
		case <-timeout:
			require.FailNow(c.t, "timed out waiting for event")
		}
	}
}

func (c *client) nextType(typ string) Event {
	c.t.Helper()
	return c.next(func(e Event) bool { return e.Type == typ })
}

// all returns one event matching each cond, in the order of conds, for
// events whose relative order is not deterministic.
func (c *client) all(conds ...func(Event) bool) []Event {
	c.t.Helper()
	res := make([]Event, len(conds))
	found := make([]bool, len(conds))
	remaining := len(conds)
	timeout := time.After(5 * time.Second)
	for remaining > 0 {
		select {
		case e := <-c.events:
			for i, cond := range conds {
				if !found[i] && cond(e) {
					res[i] = e
					found[i] = true
					remaining--
					break
				}
			}
		case <-timeout:
			require.FailNow(c.t, "timed out waiting for events")
		}
	}
	return res
}

func ofType(typ string) func(Event) bool {
	return func(e Event) bool {
		return e.Type == typ
	}
}

func anyActiveRoom(e Event) bool {
	return e.Type == EventActiveRoom && e.Room != nil
}

func activeRoom(roomID string) func(Event) bool {
	return func(e Event) bool {
		return e.Type == EventActiveRoom && e.RoomID == roomID
	}
}

func TestStartsWithUserAndEmptyRooms(t *testing.T) {
	e := newEnv(t)
	c := e.connect(t, alice)

	ev := c.nextType(EventUser)
	require.NotNil(t, ev.User)
	assert.Equal(t, alice, *ev.User)

	ev = c.nextType(EventRooms)
	assert.Empty(t, ev.Rooms)
	assert.NotNil(t, ev.Rooms)
}

func TestAutoSelectsNewestRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	older, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)
	newer, err := e.directory.Create(ctx, "診療", alice.ID)
	require.NoError(t, err)
	_, err = e.stream.Send(ctx, newer.ID, alice, "おはようございます", "", false)
	require.NoError(t, err)

	c := e.connect(t, alice)

	ev := c.nextType(EventRooms)
	require.Len(t, ev.Rooms, 2)
	assert.Equal(t, newer.ID, ev.Rooms[0].ID)
	assert.Equal(t, older.ID, ev.Rooms[1].ID)

	ev = c.nextType(EventActiveRoom)
	assert.Equal(t, newer.ID, ev.RoomID)

	ev = c.next(func(e Event) bool { return e.Type == EventMessages && len(e.Messages) == 1 })
	assert.Equal(t, newer.ID, ev.RoomID)
	assert.Equal(t, "おはようございます", ev.Messages[0].Text)

	c.send(Command{Type: CommandSelectRoom, RoomID: older.ID})
	c.next(activeRoom(older.ID))
	ev = c.nextType(EventMessages)
	assert.Equal(t, older.ID, ev.RoomID)
	assert.Empty(t, ev.Messages)
}

func TestSelectUnknownRoom(t *testing.T) {
	e := newEnv(t)
	c := e.connect(t, alice)
	c.nextType(EventRooms)

	c.send(Command{Type: CommandSelectRoom, RequestID: "r1", RoomID: "missing"})
	ev := c.nextType(EventError)
	assert.Equal(t, "r1", ev.RequestID)
	assert.Equal(t, "not_found", ev.Code)
}

// Create a room, have another user join it with a lowercase code, and see
// that a message sent by one is read by the other.
func TestCreateJoinAndRead(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a := e.connect(t, alice)
	a.nextType(EventRooms)

	a.send(Command{Type: CommandCreateRoom, RequestID: "create", Name: "受付連絡"})
	evs := a.all(ofType(EventRoomCreated), anyActiveRoom, ofType(EventMessages))
	require.NotNil(t, evs[0].Room)
	room := *evs[0].Room
	assert.Equal(t, "create", evs[0].RequestID)
	assert.Equal(t, "受付連絡", room.Name)
	assert.Len(t, room.Code, 6)
	assert.Equal(t, room.ID, evs[1].RoomID)
	assert.Equal(t, room.ID, evs[2].RoomID)

	b := e.connect(t, bob)
	b.nextType(EventRooms)
	b.send(Command{Type: CommandJoinRoom, RequestID: "join", Code: "  " + strings.ToLower(room.Code)})
	evs = b.all(ofType(EventRoomJoined), anyActiveRoom)
	assert.False(t, evs[0].AlreadyMember)
	assert.Equal(t, room.ID, evs[1].RoomID)

	b.send(Command{Type: CommandJoinRoom, RequestID: "join2", Code: room.Code})
	ev := b.nextType(EventRoomJoined)
	assert.True(t, ev.AlreadyMember)

	a.send(Command{Type: CommandSend, RequestID: "send", Text: "急患です", Important: true})
	ev = a.nextType(EventSent)
	assert.Equal(t, "send", ev.RequestID)
	require.NotNil(t, ev.Message)
	msgID := ev.Message.ID

	ev = b.next(func(e Event) bool { return e.Type == EventMessages && len(e.Messages) == 1 })
	assert.True(t, ev.Messages[0].IsImportant)

	ev = a.next(func(e Event) bool {
		return e.Type == EventMessages && len(e.Messages) == 1 && len(e.Messages[0].ReadBy) == 2
	})
	assert.Equal(t, []string{"alice", "bob"}, ev.Messages[0].ReadBy)

	stored, err := e.store.RecentMessages(ctx, room.ID, messages.WindowSize)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msgID, stored[0].ID)
	assert.Equal(t, []string{"alice", "bob"}, stored[0].ReadBy)
}

func TestSendEmptyIsSilent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	room, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)

	c := e.connect(t, alice)
	c.nextType(EventMessages)

	c.send(Command{Type: CommandSend, RequestID: "empty", Text: "   "})
	c.send(Command{Type: CommandSend, RequestID: "real", Text: "hi"})

	ev := c.next(func(e Event) bool { return e.Type == EventSent || e.Type == EventError })
	assert.Equal(t, EventSent, ev.Type)
	assert.Equal(t, "real", ev.RequestID)

	stored, err := e.store.RecentMessages(ctx, room.ID, messages.WindowSize)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSendWithoutActiveRoom(t *testing.T) {
	e := newEnv(t)
	c := e.connect(t, alice)
	c.nextType(EventRooms)

	c.send(Command{Type: CommandSend, RequestID: "s", Text: "hi"})
	ev := c.nextType(EventError)
	assert.Equal(t, "failed_precondition", ev.Code)
}

func TestDeleteActiveRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	older, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)
	newer, err := e.directory.Create(ctx, "診療", alice.ID)
	require.NoError(t, err)

	c := e.connect(t, alice)
	c.next(activeRoom(newer.ID))

	c.send(Command{Type: CommandDeleteRoom, RequestID: "del", RoomID: newer.ID})
	evs := c.all(ofType(EventRoomDeleted), activeRoom(older.ID))
	assert.Equal(t, newer.ID, evs[0].RoomID)

	_, err = e.store.GetRoom(ctx, newer.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteByOtherUserClearsSelection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	room, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)
	_, _, err = e.directory.Join(ctx, room.Code, bob.ID)
	require.NoError(t, err)

	b := e.connect(t, bob)
	b.next(activeRoom(room.ID))

	b.send(Command{Type: CommandDeleteRoom, RequestID: "del", RoomID: room.ID})
	ev := b.nextType(EventError)
	assert.Equal(t, "permission_denied", ev.Code)

	require.NoError(t, e.directory.Delete(ctx, room.ID, alice.ID))

	ev = b.next(func(e Event) bool { return e.Type == EventRooms && len(e.Rooms) == 0 })
	assert.Empty(t, ev.Rooms)
	ev = b.nextType(EventActiveRoom)
	assert.Nil(t, ev.Room)
	assert.Empty(t, ev.RoomID)
}

func TestSummarizeTooFewMessages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	room, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)
	for _, text := range []string{"おはようございます", "本日もよろしくお願いします"} {
		_, err := e.stream.Send(ctx, room.ID, alice, text, "", false)
		require.NoError(t, err)
	}

	c := e.connect(t, alice)
	c.next(func(e Event) bool { return e.Type == EventMessages && len(e.Messages) == 2 })

	c.send(Command{Type: CommandSummarize, RequestID: "sum"})
	ev := c.nextType(EventSummary)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, summarizer.InsufficientMessages(), *ev.Summary)
}

func TestSummarizeFailureIsReported(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	room, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)
	for _, text := range []string{"1", "2", "3"} {
		_, err := e.stream.Send(ctx, room.ID, alice, text, "", false)
		require.NoError(t, err)
	}

	c := e.connect(t, alice)
	c.next(func(e Event) bool { return e.Type == EventMessages && len(e.Messages) == 3 })

	c.send(Command{Type: CommandSummarize, RequestID: "sum"})
	ev := c.nextType(EventSummary)
	require.NotNil(t, ev.Summary)
	require.Len(t, ev.Summary.KeyPoints, 1)
	assert.Contains(t, ev.Summary.KeyPoints[0], summarizer.CauseMissingCredentials)
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	c := e.connect(t, alice)

	c.send(Command{Type: "dance", RequestID: "x"})
	ev := c.nextType(EventError)
	assert.Equal(t, "invalid_argument", ev.Code)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.directory.Create(ctx, "受付", alice.ID)
	require.NoError(t, err)

	c := e.connect(t, alice)
	c.nextType(EventMessages)

	c.send(Command{Type: CommandSignOut, RequestID: "bye"})
	ev := c.nextType(EventSignedOut)
	assert.Equal(t, "bye", ev.RequestID)

	select {
	case err := <-c.done:
		require.NoError(t, err)
		c.done <- err
	case <-time.After(5 * time.Second):
		require.FailNow(t, "session did not end")
	}
}
