package avatar

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"

	"github.com/xdimtech/go-avatarlink/pkg/utils"
)

// Encode serializes one envelope into one self-contained text message.
func Encode(ev OutboundEvent) (string, error) {
	return Marshal(ev)
}

// Marshal serializes any event, including the renderer replies.
func Marshal(ev Event) (string, error) {
	buf, err := utils.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("avatar: encode %s: %w", ev.GetType(), err)
	}
	return utils.Bytes2Str(buf), nil
}

// PeekType reads only the `type` field of a message.
func PeekType(text string) (EventType, error) {
	node, err := sonic.GetFromString(text, "type")
	if errors.Is(err, ast.ErrNotExist) {
		return "", ErrMissingType
	}
	if err != nil {
		return "", fmt.Errorf("avatar: decode: %w", err)
	}
	typ, err := node.StrictString()
	if err != nil {
		return "", fmt.Errorf("avatar: decode type: %w", err)
	}
	if typ == "" {
		return "", ErrMissingType
	}
	return EventType(typ), nil
}

// Decode parses a message into its concrete event type, looking at the discriminator first.
func Decode(text string) (Event, error) {
	typ, err := PeekType(text)
	if err != nil {
		return nil, err
	}
	switch typ {
	case EventTypeAnimationUpdate:
		return unmarshalEvent[AnimationUpdateEvent](text)
	case EventTypeGestureTrigger:
		return unmarshalEvent[GestureTriggerEvent](text)
	case EventTypeAnimationConfirmation:
		return unmarshalEvent[AnimationConfirmationEvent](text)
	case EventTypeGestureConfirmation:
		return unmarshalEvent[GestureConfirmationEvent](text)
	case EventTypeError:
		return unmarshalEvent[ErrorEvent](text)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typ)
	}
}

type eventInterface interface {
	AnimationUpdateEvent | GestureTriggerEvent | AnimationConfirmationEvent |
		GestureConfirmationEvent | ErrorEvent
}

func unmarshalEvent[T eventInterface](text string) (Event, error) {
	var t T
	if err := utils.UnmarshalString(text, &t); err != nil {
		return nil, fmt.Errorf("avatar: decode: %w", err)
	}
	ev, ok := any(&t).(Event)
	if !ok {
		return nil, ErrUnknownEventType
	}
	return ev, nil
}
