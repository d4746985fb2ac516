package mode

import (
	"strings"

	"companion/pkg/types"
)

// KeywordClassifier is the default utterance classifier: a lightweight
// keyword scan distinguishing study-related phrasing from open curiosity.
// It only feeds recommendations; it never drives a switch itself.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var studyKeywords = []string{
	"isee", "test", "quiz", "practice", "homework", "study",
	"math", "fraction", "vocabulary", "synonym", "antonym",
	"reading comprehension", "essay", "problem",
}

var curiosityKeywords = []string{
	"why is", "why do", "why does", "how come", "what if",
	"tell me about", "favorite", "joke", "story", "game",
	"dinosaur", "space", "animal",
}

// ClassifyUtterance categorizes one utterance. Category is "study",
// "curiosity", or "general"; the suggested mode is set only for the first
// two.
func (c *KeywordClassifier) ClassifyUtterance(text string) types.Classification {
	lowered := strings.ToLower(text)

	for _, kw := range studyKeywords {
		if strings.Contains(lowered, kw) {
			return types.Classification{Category: "study", SuggestedMode: types.ModeTutor}
		}
	}
	for _, kw := range curiosityKeywords {
		if strings.Contains(lowered, kw) {
			return types.Classification{Category: "curiosity", SuggestedMode: types.ModeFriend}
		}
	}
	return types.Classification{Category: "general"}
}
