package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a crypto perpetual futures analyst. Respond with a single JSON object only:
{"action":"LONG|SHORT|HOLD|CLOSE|NONE","confidence":0-100,"leverage":3-75,"stop_loss":number,"take_profit":number,"qty_delta_factor":-1..1,"reason":"short explanation"}
No markdown, no extra text.`

// BuildPrompt 构造单轮征询的用户提示词
// 第二轮会重述第一轮各模型的结论并要求复确认
func BuildPrompt(input Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s\n", input.Symbol)
	fmt.Fprintf(&b, "Last price: %.8g\n", input.Price)
	fmt.Fprintf(&b, "ATR: %.8g\n", input.ATR)
	fmt.Fprintf(&b, "Account equity (USDT): %.2f\n", input.Equity)
	if input.OpenSide != "" {
		fmt.Fprintf(&b, "Current open position side: %s\n", input.OpenSide)
	} else {
		b.WriteString("Current open position: none\n")
	}
	if input.KlineBrief != "" {
		fmt.Fprintf(&b, "Recent market summary:\n%s\n", input.KlineBrief)
	}

	if input.Round >= 2 && input.PeerBrief != "" {
		b.WriteString("\nSTAGE 2 of 2. The first stage produced these independent opinions:\n")
		b.WriteString(input.PeerBrief)
		b.WriteString("\nReconsider your own stage-1 view against the group. Confirm or revise, then answer with the JSON object.\n")
	} else {
		b.WriteString("\nSTAGE 1 of 2. Give your independent opinion as the JSON object.\n")
	}

	return b.String()
}

// SystemPrompt 系统提示词
func SystemPrompt() string {
	return systemPrompt
}
