package telegram

import "strings"

// MarkdownV2 保留字符，通知内容按纯文本发送前逐一加反斜杠
var markdownV2Escaper = strings.NewReplacer(
	"\\", "\\\\",
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	".", "\\.",
	"!", "\\!",
)

func escapeMarkdownV2(input string) string {
	return markdownV2Escaper.Replace(input)
}
