package renderer

import (
	"context"
	"errors"
	"fmt"

	"github.com/xdimtech/go-avatarlink/pkg/protocol/avatar"
)

// Sink receives every animation event accepted by the endpoint.
type Sink func(ctx context.Context, ev avatar.Event)

type Handler struct {
	sink Sink
}

func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) UnmarshalClientTextEvent(msg []byte) (any, error) {
	return avatar.Decode(string(msg))
}

func (h *Handler) DispatchClientEvent(ctx context.Context, event any) (any, error) {
	switch ev := event.(type) {
	case *avatar.AnimationUpdateEvent:
		h.emit(ctx, ev)
		return avatar.NewAnimationConfirmation(true, ev.Timestamp), nil
	case *avatar.GestureTriggerEvent:
		ok := ev.GestureType != "" && ev.Intensity.Valid()
		if ok {
			h.emit(ctx, ev)
		}
		return avatar.NewGestureConfirmation(ok, ev.GestureType, ev.Timestamp), nil
	case avatar.Event:
		return nil, fmt.Errorf("unexpected message type: %s", ev.GetType())
	default:
		return nil, errors.New("invalid event format")
	}
}

func (h *Handler) MarshalServerEvent(event any) ([]byte, error) {
	ev, ok := event.(avatar.Event)
	if !ok {
		return nil, fmt.Errorf("not a server event: %T", event)
	}
	text, err := avatar.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func (h *Handler) BuildErrorEvent(_ context.Context, err error) any {
	return avatar.NewErrorEvent(err)
}

func (h *Handler) emit(ctx context.Context, ev avatar.Event) {
	if h.sink != nil {
		h.sink(ctx, ev)
	}
}
