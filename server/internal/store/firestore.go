// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
)

// NewFirestore returns a Store backed by Firestore.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{
		client: client,
	}
}

// Firestore is a Store backed by Firestore. Users are stored in users/{uid},
// rooms in rooms/{roomId} with messages in the rooms/{roomId}/messages
// subcollection, and invite code reservations in inviteCodes/{code}.
type Firestore struct {
	client *firestore.Client
}

func (f *Firestore) users() *firestore.CollectionRef {
	return f.client.Collection("users")
}

func (f *Firestore) rooms() *firestore.CollectionRef {
	return f.client.Collection("rooms")
}

func (f *Firestore) codes() *firestore.CollectionRef {
	return f.client.Collection("inviteCodes")
}

func (f *Firestore) messages(roomID string) *firestore.CollectionRef {
	return f.rooms().Doc(roomID).Collection("messages")
}

func (f *Firestore) GetUser(ctx context.Context, userID string) (clinicchatdb.User, error) {
	doc, err := f.users().Doc(userID).Get(ctx)
	if err != nil {
		return clinicchatdb.User{}, fmt.Errorf("store: getting user %s: %w", userID, notFound(err))
	}
	return decodeUser(doc)
}

func (f *Firestore) UpdateUser(ctx context.Context, userID string, update UserUpdater) (clinicchatdb.User, error) {
	var res clinicchatdb.User
	userDoc := f.users().Doc(userID)
	if err := f.client.RunTransaction(ctx, func(_ context.Context, t *firestore.Transaction) error {
		var existing clinicchatdb.User
		exists := false
		doc, err := t.Get(userDoc)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return fmt.Errorf("store: getting user document: %w", err)
		default:
			u, err := decodeUser(doc)
			if err != nil {
				return err
			}
			existing = u
			exists = true
		}

		res = update(existing, exists)
		res.ID = userID
		if err := t.Set(userDoc, res); err != nil {
			return fmt.Errorf("store: setting user document: %w", err)
		}
		return nil
	}); err != nil {
		return clinicchatdb.User{}, fmt.Errorf("store: updating user %s: %w", userID, err)
	}
	return res, nil
}

func (f *Firestore) CreateRoom(ctx context.Context, room clinicchatdb.ChatRoom) (string, error) {
	roomDoc := f.rooms().NewDoc()
	codeDoc := f.codes().Doc(room.Code)
	if err := f.client.RunTransaction(ctx, func(_ context.Context, t *firestore.Transaction) error {
		if err := t.Create(codeDoc, clinicchatdb.InviteCode{RoomID: roomDoc.ID}); err != nil {
			return err
		}
		return t.Create(roomDoc, room)
	}, firestore.MaxAttempts(1)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", ErrCodeTaken
		}
		return "", fmt.Errorf("store: creating room: %w", err)
	}
	return roomDoc.ID, nil
}

func (f *Firestore) GetRoom(ctx context.Context, roomID string) (clinicchatdb.ChatRoom, error) {
	doc, err := f.rooms().Doc(roomID).Get(ctx)
	if err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: getting room %s: %w", roomID, notFound(err))
	}
	return decodeRoom(doc)
}

func (f *Firestore) FindRoomByCode(ctx context.Context, code string) (clinicchatdb.ChatRoom, error) {
	doc, err := f.rooms().Where("code", "==", code).Limit(1).Documents(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: finding room by code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: finding room by code %s: %w", code, err)
	}
	return decodeRoom(doc)
}

func (f *Firestore) AddParticipant(ctx context.Context, roomID string, userID string) error {
	if _, err := f.rooms().Doc(roomID).Update(ctx, []firestore.Update{
		{Path: "participants", Value: firestore.ArrayUnion(userID)},
	}); err != nil {
		return fmt.Errorf("store: adding participant to room %s: %w", roomID, notFound(err))
	}
	return nil
}

func (f *Firestore) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := f.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	var grp errgroup.Group

	grp.Go(func() error {
		bw := f.client.BulkWriter(ctx)
		var jobs []*firestore.BulkWriterJob
		refs := f.messages(roomID).DocumentRefs(ctx)
		for {
			ref, err := refs.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				bw.End()
				return fmt.Errorf("store: listing messages to delete: %w", err)
			}
			job, err := bw.Delete(ref)
			if err != nil {
				bw.End()
				return fmt.Errorf("store: queueing message delete: %w", err)
			}
			jobs = append(jobs, job)
		}
		bw.End()
		for _, job := range jobs {
			if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
				return fmt.Errorf("store: deleting message: %w", err)
			}
		}
		return nil
	})

	grp.Go(func() error {
		if _, err := f.codes().Doc(room.Code).Delete(ctx); err != nil {
			return fmt.Errorf("store: deleting invite code: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		if _, err := f.rooms().Doc(roomID).Delete(ctx); err != nil {
			return fmt.Errorf("store: deleting room document: %w", err)
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return fmt.Errorf("store: deleting room %s: %w", roomID, err)
	}
	return nil
}

func (f *Firestore) WatchRooms(ctx context.Context, userID string) (*Subscription[[]clinicchatdb.ChatRoom], error) {
	q := f.rooms().Where("participants", "array-contains", userID).OrderBy("createdAt", firestore.Desc)
	return Watch(ctx, func(ctx context.Context, publish func([]clinicchatdb.ChatRoom)) error {
		return listen(ctx, q, func(docs []*firestore.DocumentSnapshot) {
			rooms := make([]clinicchatdb.ChatRoom, 0, len(docs))
			for _, doc := range docs {
				room, err := decodeRoom(doc)
				if err != nil {
					slog.WarnContext(ctx, "store: skipping malformed room", "room", doc.Ref.ID, "error", err)
					continue
				}
				rooms = append(rooms, room)
			}
			publish(rooms)
		})
	}), nil
}

func (f *Firestore) AppendMessage(ctx context.Context, roomID string, msg clinicchatdb.Message) (string, error) {
	doc, _, err := f.messages(roomID).Add(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("store: appending message to room %s: %w", roomID, err)
	}
	return doc.ID, nil
}

func (f *Firestore) AddReader(ctx context.Context, roomID string, messageID string, userID string) error {
	if _, err := f.messages(roomID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "readBy", Value: firestore.ArrayUnion(userID)},
	}); err != nil {
		return fmt.Errorf("store: marking message %s read: %w", messageID, notFound(err))
	}
	return nil
}

func (f *Firestore) RecentMessages(ctx context.Context, roomID string, limit int) ([]clinicchatdb.Message, error) {
	docs, err := f.messageWindow(roomID, limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("store: listing messages of room %s: %w", roomID, err)
	}
	return decodeMessages(ctx, docs), nil
}

func (f *Firestore) WatchMessages(ctx context.Context, roomID string, limit int) (*Subscription[[]clinicchatdb.Message], error) {
	q := f.messageWindow(roomID, limit)
	return Watch(ctx, func(ctx context.Context, publish func([]clinicchatdb.Message)) error {
		return listen(ctx, q, func(docs []*firestore.DocumentSnapshot) {
			publish(decodeMessages(ctx, docs))
		})
	}), nil
}

// messageWindow queries newest first so the limit keeps the latest messages.
// Results are reversed by decodeMessages.
func (f *Firestore) messageWindow(roomID string, limit int) firestore.Query {
	return f.messages(roomID).OrderBy("timestamp", firestore.Desc).Limit(limit)
}

func listen(ctx context.Context, q firestore.Query, onSnapshot func(docs []*firestore.DocumentSnapshot)) error {
	snaps := q.Snapshots(ctx)
	defer snaps.Stop()
	for {
		snap, err := snaps.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("store: listening to query: %w", err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("store: reading query snapshot: %w", err)
		}
		onSnapshot(docs)
	}
}

func decodeUser(doc *firestore.DocumentSnapshot) (clinicchatdb.User, error) {
	var u clinicchatdb.User
	if err := doc.DataTo(&u); err != nil {
		return clinicchatdb.User{}, fmt.Errorf("store: decoding user document: %w", err)
	}
	u.ID = doc.Ref.ID
	if err := u.Validate(); err != nil {
		return clinicchatdb.User{}, fmt.Errorf("store: invalid user document: %w", err)
	}
	return u, nil
}

func decodeRoom(doc *firestore.DocumentSnapshot) (clinicchatdb.ChatRoom, error) {
	var r clinicchatdb.ChatRoom
	if err := doc.DataTo(&r); err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: decoding room document: %w", err)
	}
	r.ID = doc.Ref.ID
	if err := r.Validate(); err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("store: invalid room document: %w", err)
	}
	return r, nil
}

// decodeMessages decodes docs ordered newest first into a window ordered
// oldest first, skipping malformed messages.
func decodeMessages(ctx context.Context, docs []*firestore.DocumentSnapshot) []clinicchatdb.Message {
	msgs := make([]clinicchatdb.Message, 0, len(docs))
	for _, doc := range slices.Backward(docs) {
		var m clinicchatdb.Message
		if err := doc.DataTo(&m); err != nil {
			slog.WarnContext(ctx, "store: skipping undecodable message", "message", doc.Ref.ID, "error", err)
			continue
		}
		m.ID = doc.Ref.ID
		if err := m.Validate(); err != nil {
			slog.WarnContext(ctx, "store: skipping malformed message", "message", doc.Ref.ID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func notFound(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}
