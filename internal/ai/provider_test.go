package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAction(t *testing.T) {
	cases := map[string]Action{
		"LONG":     ActionLong,
		"buy":      ActionLong,
		"SELL":     ActionShort,
		"short":    ActionShort,
		"WAIT":     ActionHold,
		"hold":     ActionHold,
		"CLOSE":    ActionClose,
		"exit":     ActionClose,
		"NONE":     ActionNone,
		"NO_TRADE": ActionNoTrade,
		"garbage":  ActionHold,
		"":         ActionHold,
	}
	for raw, expected := range cases {
		assert.Equal(t, expected, NormalizeAction(raw), "raw=%q", raw)
	}
}

func TestParseOpinion(t *testing.T) {
	t.Run("PlainJSON", func(t *testing.T) {
		raw := `{"action":"LONG","confidence":82,"leverage":10,"stop_loss":49000,"take_profit":52000,"qty_delta_factor":0.5,"reason":"uptrend"}`
		opinion, err := ParseOpinion("openai", "gpt-4o", raw)
		require.NoError(t, err)
		assert.Equal(t, ActionLong, opinion.Action)
		assert.Equal(t, 82.0, opinion.Confidence)
		assert.Equal(t, 10, opinion.Leverage)
		assert.Equal(t, 49000.0, opinion.StopLoss)
		assert.Equal(t, 0.5, opinion.QtyDeltaFactor)
	})

	t.Run("FencedJSON", func(t *testing.T) {
		raw := "Here is my analysis:\n```json\n{\"action\":\"sell\",\"confidence\":71}\n```\nGood luck."
		opinion, err := ParseOpinion("grok", "grok-2", raw)
		require.NoError(t, err)
		assert.Equal(t, ActionShort, opinion.Action)
		assert.Equal(t, 71.0, opinion.Confidence)
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := ParseOpinion("gemini", "gemini-2.0-flash", "I cannot decide right now.")
		assert.Error(t, err)
	})
}

func TestBuildPromptRounds(t *testing.T) {
	input := Context{
		Symbol: "BTCUSDT",
		Price:  50000,
		ATR:    150,
		Equity: 10000,
		Round:  1,
	}
	stage1 := BuildPrompt(input)
	assert.Contains(t, stage1, "STAGE 1 of 2")
	assert.Contains(t, stage1, "BTCUSDT")

	input.Round = 2
	input.PeerBrief = "openai: LONG (82)\ngrok: LONG (80)"
	stage2 := BuildPrompt(input)
	assert.Contains(t, stage2, "STAGE 2 of 2")
	assert.Contains(t, stage2, "openai: LONG (82)")
}
