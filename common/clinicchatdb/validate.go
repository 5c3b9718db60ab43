// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package clinicchatdb

import (
	"errors"
	"fmt"
	"strings"
)

// CodeLength is the number of characters in an invite code.
const CodeLength = 6

// CodeAlphabet is the set of characters an invite code is made of.
const CodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	errMissingID           = errors.New("clinicchatdb: missing id")
	errMissingName         = errors.New("clinicchatdb: missing name")
	errMissingCreator      = errors.New("clinicchatdb: missing creator")
	errMissingCreatedAt    = errors.New("clinicchatdb: missing creation time")
	errMissingParticipants = errors.New("clinicchatdb: room has no participants")
	errMissingSender       = errors.New("clinicchatdb: missing sender")
	errMissingTimestamp    = errors.New("clinicchatdb: missing timestamp")
	errMissingContent      = errors.New("clinicchatdb: message has neither text nor image")
)

// ValidCode returns whether code is a well-formed invite code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return false
		}
	}
	return true
}

// Validate checks a user decoded from the store. A missing role is treated
// as staff.
func (u *User) Validate() error {
	if u.ID == "" {
		return errMissingID
	}
	switch u.Role {
	case "":
		u.Role = RoleStaff
	case RoleDoctor, RoleStaff, RoleAdmin:
	default:
		return fmt.Errorf("clinicchatdb: unknown role %q", u.Role)
	}
	return nil
}

// Validate checks a room decoded from the store.
func (r *ChatRoom) Validate() error {
	switch {
	case r.ID == "":
		return errMissingID
	case strings.TrimSpace(r.Name) == "":
		return errMissingName
	case !ValidCode(r.Code):
		return fmt.Errorf("clinicchatdb: malformed invite code %q", r.Code)
	case r.CreatedBy == "":
		return errMissingCreator
	case r.CreatedAt.IsZero():
		return errMissingCreatedAt
	case len(r.Participants) == 0:
		return errMissingParticipants
	}
	return nil
}

// Validate checks a message decoded from the store. A read list missing the
// sender is repaired rather than rejected, since the sender has always seen
// their own message.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return errMissingID
	case m.SenderID == "":
		return errMissingSender
	case m.Timestamp <= 0:
		return errMissingTimestamp
	case strings.TrimSpace(m.Text) == "" && m.ImageURL == "":
		return errMissingContent
	}
	if !m.IsReadBy(m.SenderID) {
		m.ReadBy = append([]string{m.SenderID}, m.ReadBy...)
	}
	return nil
}
