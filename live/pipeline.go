package live

import (
	"context"
	"time"

	"github.com/watari-ai/lobby/emotion"
)

const (
	DefaultNormalQueueCap   = 50
	DefaultPriorityQueueCap = 20
	DefaultProcessInterval  = 500 * time.Millisecond
	DefaultErrorBackoff     = time.Second
)

// Responder produces the performer's answer for a viewer line.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// Classifier scores the emotional tone of an answer.
type Classifier interface {
	Classify(text string) emotion.Result
}

// Synthesizer turns an answer into an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emo emotion.Emotion) (string, error)
}

// AvatarDriver pushes a finished line into the studio.
type AvatarDriver interface {
	Cue(ctx context.Context, out Output) error
}

// Deps are the pipeline stages. Avatar may be nil, the cue stage is
// skipped then.
type Deps struct {
	Responder   Responder
	Classifier  Classifier
	Synthesizer Synthesizer
	Avatar      AvatarDriver
}

// Config tunes the queues and the consumer loop.
type Config struct {
	NormalQueueCap   int
	PriorityQueueCap int

	// ProcessInterval is the idle sleep when both queues are empty.
	ProcessInterval time.Duration

	// ErrorBackoff is the pause after a failed item.
	ErrorBackoff time.Duration

	// MaxPriorityBurst caps consecutive priority items before one
	// normal item gets a turn. Zero drains the priority queue fully
	// first.
	MaxPriorityBurst int

	Filter Filter
}

func (cfg Config) withDefaults() Config {
	if cfg.NormalQueueCap <= 0 {
		cfg.NormalQueueCap = DefaultNormalQueueCap
	}

	if cfg.PriorityQueueCap <= 0 {
		cfg.PriorityQueueCap = DefaultPriorityQueueCap
	}

	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = DefaultProcessInterval
	}

	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}

	if cfg.MaxPriorityBurst < 0 {
		cfg.MaxPriorityBurst = 0
	}

	cfg.Filter = cfg.Filter.withDefaults()

	return cfg
}
