// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package sendmessage

import (
	"context"
	"errors"

	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/identity"
	"github.com/curioswitch/clinicchat/server/internal/messages"
)

func NewHandler(binder *identity.Binder, stream *messages.Stream) *Handler {
	return &Handler{
		binder: binder,
		stream: stream,
	}
}

type Handler struct {
	binder *identity.Binder
	stream *messages.Stream
}

// SendMessage sends a message as the current user. Empty messages are
// dropped without an error and the response has no message.
func (h *Handler) SendMessage(ctx context.Context, req *clinicapi.SendMessageRequest) (*clinicapi.SendMessageResponse, error) {
	sender, err := h.binder.Current(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := h.stream.Send(ctx, req.RoomID, sender, req.Text, req.ImageURL, req.Important)
	if errors.Is(err, messages.ErrEmptyMessage) {
		return &clinicapi.SendMessageResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &clinicapi.SendMessageResponse{Message: &msg}, nil
}
