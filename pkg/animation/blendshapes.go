// Package animation holds the backend-side vocabulary of the avatar: the ARKit
// blendshape set, per-emotion presets and the gesture catalogue.
package animation

import (
	"maps"

	"github.com/samber/lo"
)

type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionExcited Emotion = "excited"
	EmotionAngry   Emotion = "angry"
)

// ARKitBlendshapes is the standard ARKit face blendshape set.
var ARKitBlendshapes = []string{
	"browDown_L", "browDown_R", "browInnerUp", "browOuterUp_L", "browOuterUp_R",
	"cheekPuff", "cheekSquint_L", "cheekSquint_R", "eyeBlink_L", "eyeBlink_R",
	"eyeLookDown_L", "eyeLookDown_R", "eyeLookIn_L", "eyeLookIn_R", "eyeLookOut_L",
	"eyeLookOut_R", "eyeLookUp_L", "eyeLookUp_R", "eyeSquint_L", "eyeSquint_R",
	"eyeWide_L", "eyeWide_R", "jawForward", "jawLeft", "jawOpen", "jawRight",
	"mouthClose", "mouthDimple_L", "mouthDimple_R", "mouthFrown_L", "mouthFrown_R",
	"mouthFunnel", "mouthLeft", "mouthLowerDown_L", "mouthLowerDown_R", "mouthPress_L",
	"mouthPress_R", "mouthPucker", "mouthRight", "mouthRollLower", "mouthRollUpper",
	"mouthShrugLower", "mouthShrugUpper", "mouthSmile_L", "mouthSmile_R", "mouthStretch_L",
	"mouthStretch_R", "mouthUpperUp_L", "mouthUpperUp_R", "noseSneer_L", "noseSneer_R",
	"tongueOut",
}

// emotion floors applied on top of tracked weights
var emotionModifiers = map[Emotion]map[string]float64{
	EmotionHappy: {
		"mouthSmile_L": 0.8, "mouthSmile_R": 0.8,
		"cheekSquint_L": 0.6, "cheekSquint_R": 0.6,
		"eyeWide_L": 0.3, "eyeWide_R": 0.3,
	},
	EmotionSad: {
		"mouthFrown_L": 0.7, "mouthFrown_R": 0.7,
		"browDown_L": 0.6, "browDown_R": 0.6,
		"eyeSquint_L": 0.4, "eyeSquint_R": 0.4,
	},
	EmotionExcited: {
		"mouthSmile_L": 0.9, "mouthSmile_R": 0.9,
		"eyeWide_L": 0.8, "eyeWide_R": 0.8,
		"browInnerUp": 0.7,
		"jawOpen":     0.3,
	},
	EmotionAngry: {
		"browDown_L": 0.8, "browDown_R": 0.8,
		"mouthFrown_L": 0.6, "mouthFrown_R": 0.6,
		"eyeSquint_L": 0.7, "eyeSquint_R": 0.7,
	},
}

// resting pose used when no tracking data is available
var emotionDefaults = map[Emotion]map[string]float64{
	EmotionHappy:   {"mouthSmile_L": 0.5, "mouthSmile_R": 0.5},
	EmotionSad:     {"mouthFrown_L": 0.5, "mouthFrown_R": 0.5},
	EmotionExcited: {"eyeWide_L": 0.3, "eyeWide_R": 0.3},
}

// Neutral returns every ARKit blendshape at zero.
func Neutral() map[string]float64 {
	return lo.SliceToMap(ARKitBlendshapes, func(name string) (string, float64) {
		return name, 0
	})
}

// DefaultBlendshapes returns the resting pose for emotion.
func DefaultBlendshapes(emotion Emotion) map[string]float64 {
	weights := Neutral()
	maps.Copy(weights, emotionDefaults[emotion])
	return weights
}

// ApplyEmotion raises weights to the emotion's floor values. Only blendshapes already
// present are touched; weights is modified in place and returned.
func ApplyEmotion(weights map[string]float64, emotion Emotion) map[string]float64 {
	for name, floor := range emotionModifiers[emotion] {
		if w, ok := weights[name]; ok && w < floor {
			weights[name] = floor
		}
	}
	return weights
}

func KnownEmotions() []Emotion {
	return []Emotion{EmotionNeutral, EmotionHappy, EmotionSad, EmotionExcited, EmotionAngry}
}

func IsKnownEmotion(e Emotion) bool {
	return lo.Contains(KnownEmotions(), e)
}
