package engine

import (
	"context"
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tatianab/story-loop/internal/apierror"
	"github.com/tatianab/story-loop/internal/parser"
)

const (
	msgParseFailed = "engine.parse_failed"
	msgCanceled    = "engine.canceled"
	msgEmptyInput  = "engine.empty_input"
	msgUnexpected  = "engine.unexpected"
)

var messageLanguages = []language.Tag{language.Chinese, language.English}

var messageMatcher = language.NewMatcher(messageLanguages)

func init() {
	zh := language.Chinese
	message.SetString(zh, msgParseFailed, "AI 的回复无法解析，请重试。")
	message.SetString(zh, msgCanceled, "请求已取消。")
	message.SetString(zh, msgEmptyInput, "请输入行动，或选择 A、B、C。")
	message.SetString(zh, msgUnexpected, "出现了意外错误，请重试。")

	en := language.English
	message.SetString(en, msgParseFailed, "The AI reply could not be understood. Please try again.")
	message.SetString(en, msgCanceled, "The request was canceled.")
	message.SetString(en, msgEmptyInput, "Type an action or pick A, B or C.")
	message.SetString(en, msgUnexpected, "Something went wrong. Please try again.")
}

// UserMessage is the player-facing text for an error returned by the
// engine. Classified provider failures use the record's own message.
func UserMessage(err error, tag language.Tag) string {
	var rec *apierror.Record
	if errors.As(err, &rec) {
		return rec.UserMessage
	}

	key := msgUnexpected
	var perr *parser.ParseError
	switch {
	case errors.As(err, &perr):
		key = msgParseFailed
	case errors.Is(err, ErrEmptyInput):
		key = msgEmptyInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		key = msgCanceled
	}
	_, idx, _ := messageMatcher.Match(tag)
	return message.NewPrinter(messageLanguages[idx]).Sprintf(key)
}
