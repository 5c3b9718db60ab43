// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package messages

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/notifier"
	"github.com/curioswitch/clinicchat/server/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notifier.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Events() []notifier.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Event(nil), n.events...)
}

var (
	alice = clinicchatdb.User{ID: "alice", Name: "Alice", PhotoURL: "https://example.com/alice.png", Role: clinicchatdb.RoleDoctor}
	bob   = clinicchatdb.User{ID: "bob", Name: "Bob", Role: clinicchatdb.RoleStaff}
	carol = clinicchatdb.User{ID: "carol", Name: "Carol", Role: clinicchatdb.RoleStaff}
)

type fixture struct {
	store    *store.Memory
	notifier *recordingNotifier
	stream   *Stream
	roomID   string
	clock    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		notifier: &recordingNotifier{},
		clock:    1_700_000_000_000,
	}
	f.stream = NewStream(f.store, f.notifier, WithClock(func() time.Time {
		f.clock++
		return time.UnixMilli(f.clock)
	}))
	id, err := f.store.CreateRoom(context.Background(), clinicchatdb.ChatRoom{
		Name:         "受付連絡",
		Code:         "K3X9QZ",
		CreatedBy:    alice.ID,
		CreatedAt:    time.Now(),
		Participants: []string{alice.ID, bob.ID},
	})
	require.NoError(t, err)
	f.roomID = id
	return f
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg, err := f.stream.Send(ctx, f.roomID, alice, " 急患です ", "", true)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "https://example.com/alice.png", msg.SenderPhoto)
	assert.Equal(t, "急患です", msg.Text)
	assert.True(t, msg.IsImportant)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)
	assert.Equal(t, f.clock, msg.Timestamp)

	stored, err := f.store.RecentMessages(ctx, f.roomID, WindowSize)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg, stored[0])

	assert.Equal(t, []notifier.Event{{Room: "受付連絡", User: "Alice", Text: "急患です", Important: true}}, f.notifier.Events())
}

func TestSendImageOnly(t *testing.T) {
	f := newFixture(t)

	msg, err := f.stream.Send(context.Background(), f.roomID, bob, "", "data:image/jpeg;base64,AAAA", false)
	require.NoError(t, err)
	assert.Empty(t, msg.Text)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", msg.ImageURL)
}

func TestSendEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, text := range []string{"", "   ", "\n"} {
		_, err := f.stream.Send(ctx, f.roomID, alice, text, "", false)
		require.ErrorIs(t, err, ErrEmptyMessage)
	}

	stored, err := f.store.RecentMessages(ctx, f.roomID, WindowSize)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, f.notifier.Events())
}

func TestSendNotParticipant(t *testing.T) {
	f := newFixture(t)

	_, err := f.stream.Send(context.Background(), f.roomID, carol, "hello", "", false)
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	assert.Empty(t, f.notifier.Events())

	_, err = f.stream.Subscribe(context.Background(), f.roomID, carol.ID)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	_, err = f.stream.Send(context.Background(), "missing", alice, "hello", "", false)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestMarkReadMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg, err := f.stream.Send(ctx, f.roomID, alice, "おはようございます", "", false)
	require.NoError(t, err)

	require.NoError(t, f.stream.MarkRead(ctx, f.roomID, msg.ID, bob.ID))
	require.NoError(t, f.stream.MarkRead(ctx, f.roomID, msg.ID, bob.ID))
	require.NoError(t, f.stream.MarkRead(ctx, f.roomID, msg.ID, alice.ID))

	window, err := f.stream.Recent(ctx, f.roomID, bob.ID)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, []string{"alice", "bob"}, window[0].ReadBy)

	err = f.stream.MarkRead(ctx, f.roomID, "missing", bob.ID)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestMarkReadNotParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg, err := f.stream.Send(ctx, f.roomID, alice, "本日は休診です", "", false)
	require.NoError(t, err)

	err = f.stream.MarkRead(ctx, f.roomID, msg.ID, carol.ID)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	assert.ErrorIs(t, err, ErrNotParticipant)

	window, err := f.stream.Recent(ctx, f.roomID, alice.ID)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, []string{alice.ID}, window[0].ReadBy)
}

func TestUnread(t *testing.T) {
	window := []clinicchatdb.Message{
		{ID: "1", SenderID: "alice", ReadBy: []string{"alice"}},
		{ID: "2", SenderID: "bob", ReadBy: []string{"bob"}},
		{ID: "3", SenderID: "alice", ReadBy: []string{"alice", "bob"}},
		{ID: "4", SenderID: "carol", ReadBy: []string{"carol"}},
	}

	unread := Unread(window, "bob")
	ids := make([]string, len(unread))
	for i, m := range unread {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"1", "4"}, ids)

	assert.Empty(t, Unread(nil, "bob"))
}

func TestWindowCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 150; i++ {
		_, err := f.stream.Send(ctx, f.roomID, alice, fmt.Sprintf("m%d", i), "", false)
		require.NoError(t, err)
	}

	window, err := f.stream.Recent(ctx, f.roomID, bob.ID)
	require.NoError(t, err)
	require.Len(t, window, WindowSize)
	assert.Equal(t, "m51", window[0].Text)
	assert.Equal(t, "m150", window[len(window)-1].Text)
	for i := 1; i < len(window); i++ {
		assert.LessOrEqual(t, window[i-1].Timestamp, window[i].Timestamp)
	}
}

// An important message from one participant is seen by the other, who marks
// it read once observed.
func TestImportantMessageSeenByBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	aliceSub, err := f.stream.Subscribe(ctx, f.roomID, alice.ID)
	require.NoError(t, err)
	defer aliceSub.Close()
	bobSub, err := f.stream.Subscribe(ctx, f.roomID, bob.ID)
	require.NoError(t, err)
	defer bobSub.Close()

	msg, err := f.stream.Send(ctx, f.roomID, alice, "急患です", "", true)
	require.NoError(t, err)

	hasMsg := func(window []clinicchatdb.Message) bool {
		return len(window) == 1 && window[0].ID == msg.ID
	}

	bobView := waitFor(t, bobSub, hasMsg)
	assert.True(t, bobView[0].IsImportant)
	for _, m := range Unread(bobView, bob.ID) {
		require.NoError(t, f.stream.MarkRead(ctx, f.roomID, m.ID, bob.ID))
	}

	aliceView := waitFor(t, aliceSub, func(window []clinicchatdb.Message) bool {
		return hasMsg(window) && len(window[0].ReadBy) == 2
	})
	assert.True(t, aliceView[0].IsImportant)
	assert.Equal(t, []string{"alice", "bob"}, aliceView[0].ReadBy)
}

func waitFor(t *testing.T, sub *store.Subscription[[]clinicchatdb.Message], cond func([]clinicchatdb.Message) bool) []clinicchatdb.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case window, ok := <-sub.Updates():
			require.True(t, ok)
			if cond(window) {
				return window
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for window")
		}
	}
}
