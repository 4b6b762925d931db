package apierror

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tatianab/story-loop/internal/provider"
)

var supportedLanguages = []language.Tag{language.Chinese, language.English}

var languageMatcher = language.NewMatcher(supportedLanguages)

func messageKey(c Code) string {
	return "apierror." + string(c)
}

func init() {
	zh := language.Chinese
	message.SetString(zh, messageKey(CodeInvalidAPIKey), "%s 的 API 密钥无效或已过期，请检查配置。")
	message.SetString(zh, messageKey(CodeRateLimitExceeded), "%s 请求过于频繁，请稍后再试。")
	message.SetString(zh, messageKey(CodeReasoningError), "%s 推理模式暂不可用，将改用普通模式继续。")
	message.SetString(zh, messageKey(CodeCompatibilityError), "%s 兼容模式出错，将改用备用方式继续。")
	message.SetString(zh, messageKey(CodeCacheError), "%s 缓存出错，将改用备用方式继续。")
	message.SetString(zh, messageKey(CodeTokenCalculation), "%s 令牌计算出错，正在重试。")
	message.SetString(zh, messageKey(CodeQuotaExceeded), "%s 账户余额或配额不足，请充值后再试。")
	message.SetString(zh, messageKey(CodeContentFiltered), "内容被 %s 的安全策略拦截，请换一种行动。")
	message.SetString(zh, messageKey(CodeModelNotFound), "%s 上找不到所选模型，请检查模型名称。")
	message.SetString(zh, messageKey(CodeServiceUnavailable), "%s 服务暂时不可用，请稍后再试。")
	message.SetString(zh, messageKey(CodeContextTooLong), "对话内容超出了 %s 的上下文长度，将缩短历史后继续。")
	message.SetString(zh, messageKey(CodeInvalidRequest), "发送给 %s 的请求无效。")
	message.SetString(zh, messageKey(CodeTimeout), "%s 响应超时，请稍后再试。")
	message.SetString(zh, messageKey(CodeUnknownProviderError), "%s 返回了未知错误，请稍后重试。")

	en := language.English
	message.SetString(en, messageKey(CodeInvalidAPIKey), "The %s API key is invalid or expired. Please check your configuration.")
	message.SetString(en, messageKey(CodeRateLimitExceeded), "Too many requests to %s. Please try again shortly.")
	message.SetString(en, messageKey(CodeReasoningError), "%s reasoning mode is unavailable. Continuing in normal mode.")
	message.SetString(en, messageKey(CodeCompatibilityError), "%s compatibility mode failed. Continuing with a fallback.")
	message.SetString(en, messageKey(CodeCacheError), "%s cache failed. Continuing with a fallback.")
	message.SetString(en, messageKey(CodeTokenCalculation), "%s failed to count tokens. Retrying.")
	message.SetString(en, messageKey(CodeQuotaExceeded), "Your %s balance or quota is exhausted. Please top up and try again.")
	message.SetString(en, messageKey(CodeContentFiltered), "The content was blocked by the %s safety policy. Try a different action.")
	message.SetString(en, messageKey(CodeModelNotFound), "The selected model was not found on %s. Please check the model name.")
	message.SetString(en, messageKey(CodeServiceUnavailable), "%s is temporarily unavailable. Please try again later.")
	message.SetString(en, messageKey(CodeContextTooLong), "The conversation is too long for %s. History will be shortened.")
	message.SetString(en, messageKey(CodeInvalidRequest), "The request sent to %s was invalid.")
	message.SetString(en, messageKey(CodeTimeout), "%s timed out. Please try again later.")
	message.SetString(en, messageKey(CodeUnknownProviderError), "%s returned an unknown error. Please try again.")
}

// UserMessage renders the player-facing message for c in the closest
// supported language. Chinese is used when nothing matches.
func UserMessage(tag language.Tag, c Code, p provider.Provider) string {
	_, idx, _ := languageMatcher.Match(tag)
	name := p.DisplayName()
	if !p.Known() {
		name = "AI"
	}
	return message.NewPrinter(supportedLanguages[idx]).Sprintf(messageKey(c), name)
}
