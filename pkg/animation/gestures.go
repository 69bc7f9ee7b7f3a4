package animation

import (
	"time"

	"github.com/samber/lo"
)

// Gesture is a keyframed body animation the renderer can play.
type Gesture struct {
	Name      string
	Channel   string
	Keyframes []float64
	Duration  time.Duration
}

var Gestures = []Gesture{
	{Name: "nod", Channel: "head_rotation_y", Keyframes: []float64{0, 15, 0, -15, 0}, Duration: time.Second},
	{Name: "shake_head", Channel: "head_rotation_y", Keyframes: []float64{0, -15, 0, 15, 0}, Duration: time.Second},
	{Name: "wave", Channel: "hand_rotation_z", Keyframes: []float64{0, 45, -45, 45, 0}, Duration: 1500 * time.Millisecond},
	{Name: "point", Channel: "finger_extension", Keyframes: []float64{0, 1, 1, 0}, Duration: 800 * time.Millisecond},
}

func LookupGesture(name string) (Gesture, bool) {
	return lo.Find(Gestures, func(g Gesture) bool { return g.Name == name })
}

func IsKnownGesture(name string) bool {
	_, ok := LookupGesture(name)
	return ok
}

func GestureNames() []string {
	return lo.Map(Gestures, func(g Gesture, _ int) string { return g.Name })
}
