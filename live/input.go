// Package live queues incoming chat and drives each line through
// response generation, emotion classification, speech synthesis and
// the studio cue.
package live

import (
	"time"

	"github.com/watari-ai/lobby/emotion"
)

// Source tells where an input came from.
type Source string

const (
	SourceYouTube    Source = "youtube"
	SourceTwitch     Source = "twitch"
	SourceMicrophone Source = "microphone"
	SourceManual     Source = "manual"
)

// Input is one viewer line waiting for the performer.
type Input struct {
	Text     string
	Source   Source
	Author   string
	AuthorID string
	At       time.Time
	Meta     map[string]string
}

// NewInput builds an Input with the anonymous author and the current
// time filled in.
func NewInput(text string, source Source) Input {
	return Input{
		Text:   text,
		Source: source,
		Author: "Anonymous",
		At:     time.Now(),
	}
}

// Output is one fully processed line.
type Output struct {
	ID           string
	Input        Input
	ResponseText string
	Emotion      emotion.Result
	AudioPath    string
	At           time.Time
}
