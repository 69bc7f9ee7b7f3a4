package avatar

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

const DefaultIntensity Intensity = 1.0

// Encoder builds outbound envelopes. Timestamps it emits never decrease between two Reset calls.
type Encoder struct {
	now func() time.Time
	fps int

	mu   sync.Mutex
	last int64
}

type EncoderOption func(*Encoder)

func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// WithFPS advertises the frame rate on every animation update.
func WithFPS(fps int) EncoderOption {
	return func(e *Encoder) {
		e.fps = fps
	}
}

func NewEncoder(ops ...EncoderOption) *Encoder {
	e := &Encoder{now: time.Now}
	for _, op := range ops {
		op(e)
	}
	return e
}

// Reset starts a new connection epoch.
func (e *Encoder) Reset() {
	e.mu.Lock()
	e.last = 0
	e.mu.Unlock()
}

func (e *Encoder) stamp(ts int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts == 0 {
		ts = e.now().Unix()
	}
	if ts < e.last {
		ts = e.last
	}
	e.last = ts
	return ts
}

func (e *Encoder) Animation(frame AnimationFrame) (*AnimationUpdateEvent, error) {
	for name, w := range frame.Blendshapes {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBlendshape, name)
		}
	}
	blendshapes := maps.Clone(frame.Blendshapes)
	if blendshapes == nil {
		blendshapes = map[string]float64{}
	}
	gestures := slices.Clone(frame.Gestures)
	if gestures == nil {
		gestures = []string{}
	}
	return &AnimationUpdateEvent{
		EventBase:   EventBase{Type: EventTypeAnimationUpdate},
		Timestamp:   e.stamp(frame.Timestamp),
		Blendshapes: blendshapes,
		Emotion:     frame.Emotion,
		Gestures:    gestures,
		FPS:         e.fps,
	}, nil
}

type gestureParams struct {
	intensity Intensity
	timestamp int64
}

type GestureOption func(*gestureParams)

func WithIntensity(v float64) GestureOption {
	return func(p *gestureParams) {
		p.intensity = Intensity(v)
	}
}

func WithTimestamp(ts int64) GestureOption {
	return func(p *gestureParams) {
		p.timestamp = ts
	}
}

// Gesture builds a gesture trigger. Out-of-range intensity is rejected, not clamped.
func (e *Encoder) Gesture(gestureType string, ops ...GestureOption) (*GestureTriggerEvent, error) {
	if gestureType == "" {
		return nil, ErrEmptyGestureType
	}
	p := gestureParams{intensity: DefaultIntensity}
	for _, op := range ops {
		op(&p)
	}
	if !p.intensity.Valid() {
		return nil, ErrInvalidIntensity
	}
	return &GestureTriggerEvent{
		EventBase:   EventBase{Type: EventTypeGestureTrigger},
		GestureType: gestureType,
		Intensity:   p.intensity,
		Timestamp:   e.stamp(p.timestamp),
	}, nil
}
