// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package clinicapi defines the requests and responses of the JSON API.
package clinicapi

import (
	"github.com/curioswitch/clinicchat/common/clinicchatdb"
)

type BindUserRequest struct{}

type BindUserResponse struct {
	User clinicchatdb.User `json:"user"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type CreateRoomResponse struct {
	Room clinicchatdb.ChatRoom `json:"room"`
}

type JoinRoomRequest struct {
	Code string `json:"code"`
}

type JoinRoomResponse struct {
	Room clinicchatdb.ChatRoom `json:"room"`

	// AlreadyMember is set when the user was already a participant.
	AlreadyMember bool `json:"alreadyMember"`
}

type DeleteRoomRequest struct {
	RoomID string `json:"roomId"`
}

type DeleteRoomResponse struct{}

type SendMessageRequest struct {
	RoomID    string `json:"roomId"`
	Text      string `json:"text"`
	ImageURL  string `json:"imageUrl"`
	Important bool   `json:"important"`
}

type SendMessageResponse struct {
	// Message is the stored message. It is unset when the message was empty
	// and nothing was sent.
	Message *clinicchatdb.Message `json:"message,omitempty"`
}

type MarkReadRequest struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type MarkReadResponse struct{}

type SummarizeRequest struct {
	RoomID string `json:"roomId"`
}

type SummarizeResponse struct {
	Summary clinicchatdb.SummaryResponse `json:"summary"`
}

type UploadImageRequest struct {
	// DataURL is a base64 data URL of a png or jpeg image.
	DataURL string `json:"dataUrl"`
}

type UploadImageResponse struct {
	// ImageURL can be used as the image of a message.
	ImageURL string `json:"imageUrl"`
}
