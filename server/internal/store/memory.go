// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
)

const topicRooms = "rooms"

func messagesTopic(roomID string) string {
	return "messages/" + roomID
}

type memoryRoom struct {
	room     clinicchatdb.ChatRoom
	messages []clinicchatdb.Message
}

type memoryWatcher struct {
	topic   string
	changed chan struct{}
}

// Memory is a Store kept in process memory. It is used for local
// development and tests.
type Memory struct {
	mu       sync.Mutex
	users    map[string]clinicchatdb.User
	rooms    map[string]*memoryRoom
	codes    map[string]string
	watchers map[*memoryWatcher]struct{}
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    map[string]clinicchatdb.User{},
		rooms:    map[string]*memoryRoom{},
		codes:    map[string]string{},
		watchers: map[*memoryWatcher]struct{}{},
	}
}

func (m *Memory) GetUser(_ context.Context, userID string) (clinicchatdb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return clinicchatdb.User{}, fmt.Errorf("store: getting user %s: %w", userID, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) UpdateUser(_ context.Context, userID string, update UserUpdater) (clinicchatdb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[userID]
	u := update(existing, ok)
	u.ID = userID
	m.users[userID] = u
	return u, nil
}

func (m *Memory) CreateRoom(_ context.Context, room clinicchatdb.ChatRoom) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[room.Code]; ok {
		return "", ErrCodeTaken
	}
	room.ID = uuid.NewString()
	room.Participants = slices.Clone(room.Participants)
	m.rooms[room.ID] = &memoryRoom{room: room}
	m.codes[room.Code] = room.ID
	m.notifyLocked(topicRooms)
	return room.ID, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (clinicchatdb.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: getting room %s: %w", roomID, ErrNotFound)
	}
	return cloneRoom(r.room), nil
}

func (m *Memory) FindRoomByCode(_ context.Context, code string) (clinicchatdb.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, ok := m.codes[code]
	if !ok {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: finding room by code %s: %w", code, ErrNotFound)
	}
	return cloneRoom(m.rooms[roomID].room), nil
}

func (m *Memory) AddParticipant(_ context.Context, roomID string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("store: adding participant to room %s: %w", roomID, ErrNotFound)
	}
	if !r.room.HasParticipant(userID) {
		r.room.Participants = append(r.room.Participants, userID)
		m.notifyLocked(topicRooms)
	}
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("store: deleting room %s: %w", roomID, ErrNotFound)
	}
	delete(m.codes, r.room.Code)
	delete(m.rooms, roomID)
	m.notifyLocked(topicRooms)
	m.notifyLocked(messagesTopic(roomID))
	return nil
}

func (m *Memory) WatchRooms(ctx context.Context, userID string) (*Subscription[[]clinicchatdb.ChatRoom], error) {
	return watchMemory(ctx, m, topicRooms, func() []clinicchatdb.ChatRoom {
		return m.roomsOf(userID)
	}), nil
}

func (m *Memory) roomsOf(userID string) []clinicchatdb.ChatRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rooms []clinicchatdb.ChatRoom
	for _, r := range m.rooms {
		if r.room.HasParticipant(userID) {
			rooms = append(rooms, cloneRoom(r.room))
		}
	}
	slices.SortStableFunc(rooms, func(a, b clinicchatdb.ChatRoom) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return rooms
}

func (m *Memory) AppendMessage(_ context.Context, roomID string, msg clinicchatdb.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return "", fmt.Errorf("store: appending message to room %s: %w", roomID, ErrNotFound)
	}
	msg.ID = uuid.NewString()
	msg.ReadBy = slices.Clone(msg.ReadBy)
	r.messages = append(r.messages, msg)
	m.notifyLocked(messagesTopic(roomID))
	return msg.ID, nil
}

func (m *Memory) AddReader(_ context.Context, roomID string, messageID string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("store: marking message read in room %s: %w", roomID, ErrNotFound)
	}
	idx := slices.IndexFunc(r.messages, func(msg clinicchatdb.Message) bool {
		return msg.ID == messageID
	})
	if idx < 0 {
		return fmt.Errorf("store: marking message %s read: %w", messageID, ErrNotFound)
	}
	if !r.messages[idx].IsReadBy(userID) {
		r.messages[idx].ReadBy = append(r.messages[idx].ReadBy, userID)
		m.notifyLocked(messagesTopic(roomID))
	}
	return nil
}

func (m *Memory) RecentMessages(_ context.Context, roomID string, limit int) ([]clinicchatdb.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, fmt.Errorf("store: listing messages of room %s: %w", roomID, ErrNotFound)
	}
	return m.windowLocked(roomID, limit), nil
}

func (m *Memory) WatchMessages(ctx context.Context, roomID string, limit int) (*Subscription[[]clinicchatdb.Message], error) {
	return watchMemory(ctx, m, messagesTopic(roomID), func() []clinicchatdb.Message {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.windowLocked(roomID, limit)
	}), nil
}

// windowLocked returns the newest limit messages ordered by timestamp, with
// ties kept in insertion order.
func (m *Memory) windowLocked(roomID string, limit int) []clinicchatdb.Message {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	msgs := make([]clinicchatdb.Message, len(r.messages))
	for i, msg := range r.messages {
		msg.ReadBy = slices.Clone(msg.ReadBy)
		msgs[i] = msg
	}
	slices.SortStableFunc(msgs, func(a, b clinicchatdb.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func (m *Memory) notifyLocked(topic string) {
	for w := range m.watchers {
		if w.topic != topic {
			continue
		}
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}

func watchMemory[T any](ctx context.Context, m *Memory, topic string, query func() T) *Subscription[T] {
	w := &memoryWatcher{
		topic:   topic,
		changed: make(chan struct{}, 1),
	}
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	return Watch(ctx, func(ctx context.Context, publish func(T)) error {
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()
		publish(query())
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.changed:
				publish(query())
			}
		}
	})
}

func cloneRoom(r clinicchatdb.ChatRoom) clinicchatdb.ChatRoom {
	r.Participants = slices.Clone(r.Participants)
	return r
}
