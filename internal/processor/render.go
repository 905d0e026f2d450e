package processor

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hoanglm/replygate/internal/transport"
)

// messageExcerptLen bounds the {message} placeholder.
const messageExcerptLen = 100

// Render substitutes placeholders in a template body. Substitution is
// literal text replacement; placeholders the template declares but this
// renderer doesn't know stay verbatim in the output.
func Render(content string, msg transport.Message, senderName string, now time.Time) string {
	name := strings.TrimSpace(senderName)
	if name == "" {
		name = "there"
	}

	r := strings.NewReplacer(
		"{name}", name,
		"{time}", now.Format("15:04"),
		"{date}", now.Format("2006-01-02"),
		"{datetime}", now.Format("2006-01-02 15:04"),
		"{day}", now.Weekday().String(),
		"{message}", excerpt(msg.Body, messageExcerptLen),
	)
	return r.Replace(content)
}

// excerpt returns the first n runes of s. Truncating on bytes would split
// multi-byte runes and leave invalid UTF-8 in the reply.
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
