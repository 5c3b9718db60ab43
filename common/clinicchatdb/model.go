// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package clinicchatdb

import (
	"slices"
	"time"
)

type Role string

const (
	// RoleDoctor is a dentist or other licensed practitioner.
	RoleDoctor Role = "doctor"
	// RoleStaff is front desk or assisting staff. New users start as staff.
	RoleStaff Role = "staff"
	// RoleAdmin can manage the clinic's workspace.
	RoleAdmin Role = "admin"
)

// User is a clinic member, stored in the users collection keyed by the
// identity provider's uid.
type User struct {
	// ID is the uid from the identity provider.
	ID string `firestore:"id" json:"id"`

	// Name is the display name of the user.
	Name string `firestore:"name" json:"name"`

	// Email is the email address of the user, if known.
	Email string `firestore:"email" json:"email"`

	// PhotoURL is the URL of the user's avatar.
	PhotoURL string `firestore:"photoURL" json:"photoURL"`

	// Role is the role of the user within the clinic.
	Role Role `firestore:"role" json:"role"`
}

// ChatRoom is a named room staff talk in. Rooms are stored in the rooms
// collection, with messages in a messages subcollection.
type ChatRoom struct {
	// ID is the document ID of the room.
	ID string `firestore:"-" json:"id"`

	// Name is the display name of the room.
	Name string `firestore:"name" json:"name"`

	// Code is the invite code used to join the room.
	Code string `firestore:"code" json:"code"`

	// CreatedBy is the ID of the user that created the room. Only this
	// user may delete it.
	CreatedBy string `firestore:"createdBy" json:"createdBy"`

	// CreatedAt is the time the room was created.
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`

	// Participants are the IDs of users that belong to the room.
	Participants []string `firestore:"participants" json:"participants"`
}

// HasParticipant returns whether the user belongs to the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}

// Message is a single message in a room.
type Message struct {
	// ID is the document ID of the message.
	ID string `firestore:"-" json:"id"`

	// SenderID is the ID of the user that sent the message.
	SenderID string `firestore:"senderId" json:"senderId"`

	// SenderName is the display name of the sender at the time of sending.
	SenderName string `firestore:"senderName" json:"senderName"`

	// SenderPhoto is the avatar URL of the sender at the time of sending.
	SenderPhoto string `firestore:"senderPhoto" json:"senderPhoto"`

	// Text is the text content of the message.
	Text string `firestore:"text" json:"text"`

	// ImageURL is an attached image, either a data URL or a public URL.
	ImageURL string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`

	// Timestamp is the send time in epoch milliseconds. Messages are ordered
	// by it.
	Timestamp int64 `firestore:"timestamp" json:"timestamp"`

	// IsImportant marks the message for emphasis.
	IsImportant bool `firestore:"isImportant" json:"isImportant"`

	// ReadBy are the IDs of users that have seen the message, always
	// including the sender.
	ReadBy []string `firestore:"readBy" json:"readBy"`
}

// IsReadBy returns whether the user has seen the message.
func (m *Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// InviteCode reserves a room's invite code. Stored in the inviteCodes
// collection with the code as the document ID.
type InviteCode struct {
	// RoomID is the room the code belongs to.
	RoomID string `firestore:"roomId"`
}

// SummaryResponse is a generated summary of a conversation. It is never
// stored.
type SummaryResponse struct {
	// Summary is a free text overview.
	Summary string `json:"summary"`

	// KeyPoints are the main points of the conversation.
	KeyPoints []string `json:"keyPoints"`

	// ActionItems are tasks that came up in the conversation.
	ActionItems []string `json:"actionItems"`
}
