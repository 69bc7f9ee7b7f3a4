package avatar

import (
	"errors"
	"math"
	"strconv"
)

// EventType is the `type` discriminator carried by every message on the wire.
type EventType string

const (
	EventTypeAnimationUpdate       EventType = "animation_update"
	EventTypeGestureTrigger        EventType = "gesture_trigger"
	EventTypeAnimationConfirmation EventType = "animation_confirmation"
	EventTypeGestureConfirmation   EventType = "gesture_confirmation"
	EventTypeError                 EventType = "error"
)

var (
	ErrMissingType       = errors.New("avatar: message has no type")
	ErrUnknownEventType  = errors.New("avatar: unknown event type")
	ErrInvalidIntensity  = errors.New("avatar: gesture intensity must be within [0, 1]")
	ErrEmptyGestureType  = errors.New("avatar: gesture type is empty")
	ErrInvalidBlendshape = errors.New("avatar: blendshape weight is not a finite number")
)

// Event is any message that can travel over the link.
type Event interface {
	GetType() EventType
}

// OutboundEvent is an envelope the backend is allowed to send.
type OutboundEvent interface {
	Event
	outbound()
}

type EventBase struct {
	Type EventType `json:"type"`
}

func (e EventBase) GetType() EventType {
	return e.Type
}

// AnimationFrame is one frame of facial animation produced by the backend.
type AnimationFrame struct {
	// Timestamp in seconds since epoch. Zero lets the encoder stamp the frame.
	Timestamp   int64
	Blendshapes map[string]float64
	Emotion     string
	Gestures    []string
}

// {"type":"animation_update","timestamp":1718000000,"blendshapes":{"jawOpen":0.4},"emotion":"happy","gestures":["nod"],"fps":30}

type AnimationUpdateEvent struct {
	EventBase
	Timestamp   int64              `json:"timestamp"`
	Blendshapes map[string]float64 `json:"blendshapes"`
	Emotion     string             `json:"emotion"`
	Gestures    []string           `json:"gestures"`
	FPS         int                `json:"fps,omitempty"`
}

func (*AnimationUpdateEvent) outbound() {}

// {"type":"gesture_trigger","gesture_type":"wave","intensity":1.0,"timestamp":1718000000}

type GestureTriggerEvent struct {
	EventBase
	GestureType string    `json:"gesture_type"`
	Intensity   Intensity `json:"intensity"`
	Timestamp   int64     `json:"timestamp"`
}

func (*GestureTriggerEvent) outbound() {}

// AnimationConfirmationEvent is the renderer's acknowledgement of an animation update.
type AnimationConfirmationEvent struct {
	EventBase
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

type GestureConfirmationEvent struct {
	EventBase
	Success     bool   `json:"success"`
	GestureType string `json:"gesture_type"`
	Timestamp   int64  `json:"timestamp"`
}

type ErrorEvent struct {
	EventBase
	Error string `json:"error"`
}

// Intensity is a gesture strength in [0, 1]. It always encodes with a fractional part.
type Intensity float64

func (i Intensity) Valid() bool {
	f := float64(i)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

func (i Intensity) MarshalJSON() ([]byte, error) {
	f := float64(i)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrInvalidIntensity
	}
	buf := strconv.AppendFloat(nil, f, 'f', -1, 64)
	for _, c := range buf {
		if c == '.' {
			return buf, nil
		}
	}
	return append(buf, '.', '0'), nil
}

func NewAnimationConfirmation(success bool, ts int64) *AnimationConfirmationEvent {
	return &AnimationConfirmationEvent{
		EventBase: EventBase{Type: EventTypeAnimationConfirmation},
		Success:   success,
		Timestamp: ts,
	}
}

func NewGestureConfirmation(success bool, gestureType string, ts int64) *GestureConfirmationEvent {
	return &GestureConfirmationEvent{
		EventBase:   EventBase{Type: EventTypeGestureConfirmation},
		Success:     success,
		GestureType: gestureType,
		Timestamp:   ts,
	}
}

func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{
		EventBase: EventBase{Type: EventTypeError},
		Error:     err.Error(),
	}
}
