package emotion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyze_Tagged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		primary   Emotion
		plainText string
	}{
		{
			name:      "happy tag",
			input:     "[happy] 今日も配信楽しかった",
			primary:   Happy,
			plainText: "今日も配信楽しかった",
		},
		{
			name:      "sad tag",
			input:     "[sad] また明日ね",
			primary:   Sad,
			plainText: "また明日ね",
		},
		{
			name:      "neutral tag",
			input:     "[neutral] そうなんだ",
			primary:   Neutral,
			plainText: "そうなんだ",
		},
		{
			name:      "uppercase tag",
			input:     "[EXCITED] いくよ",
			primary:   Excited,
			plainText: "いくよ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Analyze(tt.input)
			require.Equal(t, tt.primary, result.Primary)
			require.InDelta(t, 0.8, result.Intensity, 0.0001)
			require.Empty(t, result.Secondary)
			require.Equal(t, tt.plainText, result.PlainText)
		})
	}
}

func TestAnalyze_UnknownTagFallsThrough(t *testing.T) {
	t.Parallel()

	result := Analyze("[dancing] すごいね")
	require.Equal(t, Excited, result.Primary)
	require.Equal(t, "すごいね", result.PlainText)
}

func TestAnalyze_Keywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		primary Emotion
	}{
		{name: "happy keyword", input: "今日は楽しいね", primary: Happy},
		{name: "sad keyword", input: "ちょっと寂しいな", primary: Sad},
		{name: "angry keyword", input: "もう怒ったからね", primary: Angry},
		{name: "surprised keyword", input: "えっ、びっくりした", primary: Surprised},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Analyze(tt.input)
			require.Equal(t, tt.primary, result.Primary)
			require.Greater(t, result.Intensity, 0.0)
		})
	}
}

func TestAnalyze_PunctuationRules(t *testing.T) {
	t.Parallel()

	// double bang raises excited over the lone happy bang match
	result := Analyze("いくよ！！")
	require.Equal(t, Excited, result.Primary)
	require.Equal(t, Happy, result.Secondary)

	result = Analyze("そっか...")
	require.Equal(t, Sad, result.Primary)
	require.InDelta(t, 0.5, result.Intensity, 0.0001) // "..." keyword plus ellipsis rule
}

func TestAnalyze_SecondaryEmotion(t *testing.T) {
	t.Parallel()

	// "すごい" votes excited, "嬉しい" votes happy, excited stacks more
	result := Analyze("すごい！！嬉しい！！")
	require.Equal(t, Excited, result.Primary)
	require.Equal(t, Happy, result.Secondary)
	require.LessOrEqual(t, result.Intensity, 1.0)
}

func TestAnalyze_NeutralDefault(t *testing.T) {
	t.Parallel()

	result := Analyze("こんにちは")
	require.Equal(t, Neutral, result.Primary)
	require.InDelta(t, 0.5, result.Intensity, 0.0001)
	require.Empty(t, result.Secondary)
	require.Equal(t, "こんにちは", result.PlainText)
}

func TestAnalyze_IntensityCapped(t *testing.T) {
	t.Parallel()

	result := Analyze("すごいやばいマジ！！！？🔥✨っす！")
	require.Equal(t, Excited, result.Primary)
	require.InDelta(t, 1.0, result.Intensity, 0.0001)
}
