// Package emotion classifies performer lines into a small emotion set
// using explicit tags and keyword rules.
package emotion

import (
	"regexp"
	"strings"
)

// Emotion is one of the moods the avatar can express.
type Emotion string

const (
	Happy     Emotion = "happy"
	Sad       Emotion = "sad"
	Excited   Emotion = "excited"
	Angry     Emotion = "angry"
	Surprised Emotion = "surprised"
	Neutral   Emotion = "neutral"
)

// Result is the outcome of analyzing one line.
type Result struct {
	Primary   Emotion
	Intensity float64 // 0.0 - 1.0
	Secondary Emotion // empty when no runner-up scored
	PlainText string  // input with emotion tags stripped
}

const (
	// tagIntensity is used when the model tagged the line itself.
	tagIntensity = 0.8

	keywordWeight     = 0.3
	exclamationWeight = 0.3
	ellipsisWeight    = 0.2
	neutralIntensity  = 0.5
)

var (
	leadingTagRe = regexp.MustCompile(`^\[(\w+)\]\s*`)
	anyTagRe     = regexp.MustCompile(`\[(\w+)\]\s*`)
)

// scored emotions in priority order, ties go to the earlier entry
var scorable = []Emotion{Happy, Sad, Excited, Angry, Surprised}

var keywords = map[Emotion][]string{
	Happy:     {"嬉しい", "楽しい", "やった", "！", "♪", "😊", "😄", "w", "笑"},
	Sad:       {"悲しい", "寂しい", "辛い", "泣", "😢", "😭", "..."},
	Excited:   {"すごい", "やばい", "マジ", "！！", "！？", "🔥", "✨", "っす！"},
	Angry:     {"怒", "ムカ", "許さ", "💢", "😠"},
	Surprised: {"え？", "えっ", "びっくり", "驚", "!?", "？！", "😮", "😲"},
}

var validTags = map[string]Emotion{
	"happy":     Happy,
	"sad":       Sad,
	"excited":   Excited,
	"angry":     Angry,
	"surprised": Surprised,
	"neutral":   Neutral,
}

// Analyzer is the method form of Analyze for callers that take a
// classifier.
type Analyzer struct{}

func (Analyzer) Classify(text string) Result {
	return Analyze(text)
}

// Analyze classifies text. A leading [happy] style tag wins outright,
// otherwise keywords and punctuation vote and the highest score
// decides. Lines with no signal come back neutral at half intensity.
func Analyze(text string) Result {
	plain := anyTagRe.ReplaceAllString(text, "")

	if match := leadingTagRe.FindStringSubmatch(text); match != nil {
		if tagged, ok := validTags[strings.ToLower(match[1])]; ok {
			return Result{
				Primary:   tagged,
				Intensity: tagIntensity,
				PlainText: plain,
			}
		}
		// unknown tags are ignored and the keywords decide
	}

	scores := map[Emotion]float64{}
	for _, emo := range scorable {
		for _, keyword := range keywords[emo] {
			if strings.Contains(text, keyword) {
				scores[emo] += keywordWeight
			}
		}
	}

	if strings.Count(text, "！") >= 2 {
		scores[Excited] += exclamationWeight
	}

	if strings.Contains(text, "...") {
		scores[Sad] += ellipsisWeight
	}

	var primary, secondary Emotion
	var best, runnerUp float64
	for _, emo := range scorable {
		score := scores[emo]
		if score > best {
			secondary, runnerUp = primary, best
			primary, best = emo, score
		} else if score > runnerUp {
			secondary, runnerUp = emo, score
		}
	}

	if best == 0 {
		return Result{
			Primary:   Neutral,
			Intensity: neutralIntensity,
			PlainText: plain,
		}
	}

	if runnerUp == 0 {
		secondary = ""
	}

	return Result{
		Primary:   primary,
		Intensity: min(best, 1.0),
		Secondary: secondary,
		PlainText: plain,
	}
}
