package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/apierror"
	"github.com/tatianab/story-loop/internal/journal"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/parser"
	"github.com/tatianab/story-loop/internal/prompt"
	"github.com/tatianab/story-loop/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const openingAnswer = "```json\n" + `{
  "scene": "青石渡客栈",
  "narration": "雨夜，客栈里只剩下你和一盏油灯。",
  "options": [
    {"id": "A", "text": "拨弄算盘"},
    {"id": "B", "text": "去后院看看"},
    {"id": "C", "text": "向老板娘打听黑衣客"}
  ],
  "status": {"silver": 15, "location": "客栈大堂"},
  "custom": {"inventory": ["算盘", "旧玉佩", "油灯"], "weather": "大雨"}
}` + "\n```"

const nextAnswer = `{
  "scene": "后院",
  "narration": "后院的井边站着一个黑衣人。",
  "options": [
    {"id": "A", "text": "上前搭话"},
    {"id": "B", "text": "躲回屋里"},
    {"id": "C", "text": "大声呼喊"}
  ],
  "status": {"health": {"value": 90, "max": 100}}
}`

type step struct {
	text string
	err  error
}

// scriptedTransport answers with the queued steps in order.
type scriptedTransport struct {
	mu      sync.Mutex
	steps   []step
	prompts []string
}

func (s *scriptedTransport) Complete(_ context.Context, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.steps) == 0 {
		return "", errors.New("no scripted answer left")
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.text, st.err
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newSession(t *testing.T) *models.GameSession {
	t.Helper()
	sc, err := models.DefaultScenario()
	require.NoError(t, err)
	return models.NewSession(sc)
}

func newEngine(tr Transport, p provider.Provider, sleeps *sleepRecorder, opts ...Option) *Engine {
	if sleeps == nil {
		sleeps = &sleepRecorder{}
	}
	opts = append([]Option{WithSleep(sleeps.sleep)}, opts...)
	return NewEngine(tr, Options{Provider: p, AutoFix: true, MaxRetries: 2}, opts...)
}

func withHistory(s *models.GameSession, n int) {
	for i := 1; i <= n; i++ {
		s.History = append(s.History, models.GameRound{
			Round:     i,
			UserInput: "行动" + string(rune('0'+i)),
			Response:  models.RoundResponse{Scene: "场景", Narration: "第" + string(rune('0'+i)) + "段旁白"},
		})
	}
}

func TestStartGameAndPlayRound(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{text: openingAnswer}, {text: nextAnswer}}}
	eng := newEngine(tr, provider.DeepSeek, nil)
	s := newSession(t)
	ctx := context.Background()

	turn, err := eng.StartGame(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Round)
	assert.Equal(t, 1, turn.Attempts)
	assert.Equal(t, parser.MethodMarkdownJSON, turn.Parse.Method)
	assert.NotEmpty(t, turn.RequestID)
	assert.Contains(t, tr.prompts[0], prompt.HeaderInput+"\n"+OpeningInput)

	require.Len(t, s.History, 1)
	assert.Empty(t, s.History[0].UserInput, "opening round is a system round")
	assert.Equal(t, "青石渡客栈", s.History[0].Response.Scene)
	assert.Equal(t, models.NumberValue(15), s.State.PlayerStatus["silver"])
	assert.Equal(t, models.TextValue("客栈大堂"), s.State.PlayerStatus["location"])
	inv, _ := s.State.CustomData.Get("inventory")
	assert.Equal(t, []any{"算盘", "旧玉佩", "油灯"}, inv)
	weather, _ := s.State.Extra().Get("weather")
	assert.Equal(t, "大雨", weather)

	input := ResolveInput(s.Options, "b")
	assert.Equal(t, "去后院看看", input)

	turn, err = eng.PlayRound(ctx, s, input)
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Round)
	assert.Contains(t, tr.prompts[1], prompt.HeaderHistory)
	assert.Contains(t, tr.prompts[1], "第1回合：（系统推进） - 雨夜")
	assert.Contains(t, tr.prompts[1], "weather: 大雨")

	require.Len(t, s.History, 2)
	assert.Equal(t, "去后院看看", s.History[1].UserInput)
	assert.Equal(t, models.ProgressValue(90, 100), s.State.PlayerStatus["health"])
	assert.Equal(t, models.NumberValue(15), s.State.PlayerStatus["silver"], "unchanged fields are kept")
	assert.Equal(t, "上前搭话", s.Options[0].Text)
}

func TestPlayRoundRejectsEmptyInput(t *testing.T) {
	tr := &scriptedTransport{}
	eng := newEngine(tr, provider.DeepSeek, nil)

	_, err := eng.PlayRound(context.Background(), newSession(t), "   ")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, tr.calls())
}

func TestRetryableProviderError(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		{err: &apierror.HTTPError{
			StatusCode: 429,
			Body:       []byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`),
			RetryAfter: 3 * time.Second,
		}},
		{err: &apierror.HTTPError{StatusCode: 503}},
		{text: nextAnswer},
	}}
	sleeps := &sleepRecorder{}
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	eng := newEngine(tr, provider.DeepSeek, sleeps, WithRecorder(j))
	s := newSession(t)

	turn, err := eng.PlayRound(context.Background(), s, "去后院")
	require.NoError(t, err)
	assert.Equal(t, 3, turn.Attempts)
	assert.Equal(t, []time.Duration{3 * time.Second, defaultRetryWait}, sleeps.waits)

	failures, err := j.Failures(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, string(apierror.CodeRateLimitExceeded), failures[0].Code)
	assert.Equal(t, "rate_limit_error", failures[0].ProviderCode)
	assert.Equal(t, string(apierror.CodeServiceUnavailable), failures[1].Code)
	assert.Equal(t, 503, failures[1].ProviderStatus)

	rounds, err := j.Rounds(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, 3, rounds[0].Attempts)
	assert.Equal(t, string(parser.MethodBraceMatch), rounds[0].Method)
}

func TestNonRetryableProviderError(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: &apierror.HTTPError{
		StatusCode: 401,
		Body:       []byte(`{"error":{"message":"Authentication Fails","type":"authentication_error","code":"invalid_api_key"}}`),
	}}}}
	eng := newEngine(tr, provider.DeepSeek, nil)
	s := newSession(t)
	before := s.State.Clone()

	_, err := eng.PlayRound(context.Background(), s, "去后院")
	var rec *apierror.Record
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, apierror.CodeInvalidAPIKey, rec.Code)
	assert.Equal(t, apierror.RecoveryUserAction, rec.Recovery)
	assert.Equal(t, 1, tr.calls())
	assert.Empty(t, s.History)
	assert.Empty(t, cmp.Diff(before, s.State, cmp.AllowUnexported(models.OrderedMap{})))
	assert.Equal(t, rec.UserMessage, UserMessage(err, language.Chinese))
}

func TestRetriesExhausted(t *testing.T) {
	busy := step{err: &apierror.HTTPError{StatusCode: 503}}
	tr := &scriptedTransport{steps: []step{busy, busy, busy, busy}}
	sleeps := &sleepRecorder{}
	eng := newEngine(tr, provider.SiliconFlow, sleeps)

	_, err := eng.PlayRound(context.Background(), newSession(t), "等待")
	var rec *apierror.Record
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, apierror.CodeServiceUnavailable, rec.Code)
	assert.Equal(t, 3, tr.calls(), "one attempt plus two retries")
	assert.Len(t, sleeps.waits, 2)
}

func TestParseFailureIsRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{text: "抱歉，我无法回答。"}, {text: nextAnswer}}}
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	sleeps := &sleepRecorder{}
	eng := newEngine(tr, provider.DeepSeek, sleeps, WithRecorder(j))
	s := newSession(t)

	turn, err := eng.PlayRound(context.Background(), s, "去后院")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Attempts)
	assert.Empty(t, sleeps.waits, "parse failures retry at once")

	failures, err := j.Failures(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, journal.KindParse, failures[0].Kind)
	assert.Equal(t, string(parser.PhaseExtraction), failures[0].Phase)
}

func TestParseFailureExhausted(t *testing.T) {
	bad := step{text: `{"scene":"", "narration":"x", "options":[]}`}
	tr := &scriptedTransport{steps: []step{bad, bad}}
	eng := NewEngine(tr, Options{Provider: provider.DeepSeek, MaxRetries: 1})

	_, err := eng.PlayRound(context.Background(), newSession(t), "去后院")
	var perr *parser.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, parser.PhaseValidation, perr.Phase)
	assert.Equal(t, 2, tr.calls())
	assert.Equal(t, "AI 的回复无法解析，请重试。", UserMessage(err, language.Chinese))
	assert.Equal(t, "The AI reply could not be understood. Please try again.", UserMessage(err, language.English))
}

func TestSafetyBlockIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{text: `{"promptFeedback":{"blockReason":"SAFETY"}}`}}}
	eng := newEngine(tr, provider.Gemini, nil)

	_, err := eng.PlayRound(context.Background(), newSession(t), "拔剑")
	var rec *apierror.Record
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, apierror.CodeContentFiltered, rec.Code)
	assert.Equal(t, provider.Gemini, rec.Provider)
	assert.Equal(t, 1, tr.calls())
}

func TestRecitationIsRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		{text: `{"candidates":[{"finishReason":"RECITATION"}]}`},
		{text: nextAnswer},
	}}
	eng := newEngine(tr, provider.Gemini, nil)

	turn, err := eng.PlayRound(context.Background(), newSession(t), "拔剑")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Attempts)
	assert.Equal(t, 2, tr.calls())
}

func TestDeepSeekCatchAllRateLimitIsRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		{err: &apierror.HTTPError{
			StatusCode: 429,
			Body:       []byte(`{"error":{"message":"Rate limit reached for requests","type":"rate_limit_error","param":null,"code":"invalid_request_error"}}`),
		}},
		{text: nextAnswer},
	}}
	sleeps := &sleepRecorder{}
	eng := newEngine(tr, provider.DeepSeek, sleeps)

	turn, err := eng.PlayRound(context.Background(), newSession(t), "继续")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.waits)
}

func TestContextTooLongHalvesHistory(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		{err: &apierror.HTTPError{
			StatusCode: 400,
			Body:       []byte(`{"error":{"message":"maximum context length exceeded","type":"invalid_request_error","code":"context_length_exceeded"}}`),
		}},
		{text: nextAnswer},
	}}
	sleeps := &sleepRecorder{}
	eng := newEngine(tr, provider.DeepSeek, sleeps)
	s := newSession(t)
	withHistory(s, 4)

	turn, err := eng.PlayRound(context.Background(), s, "继续")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.HistoryRounds)
	assert.Empty(t, sleeps.waits)
	require.Len(t, tr.prompts, 2)
	assert.Contains(t, tr.prompts[0], "第1段旁白")
	assert.NotContains(t, tr.prompts[1], "第2段旁白")
	assert.Contains(t, tr.prompts[1], "第3段旁白")
	assert.Contains(t, tr.prompts[1], "第4段旁白")
	assert.Equal(t, 5, turn.Round)
}

func TestTokenBudgetDropsHistory(t *testing.T) {
	s := newSession(t)
	withHistory(s, 3)

	bare := prompt.Build(prompt.Options{
		World:      s.Scenario.World,
		Status:     s.Scenario.Status,
		Extensions: s.Scenario.Extensions,
		State:      s.State,
		UserInput:  "继续",
		Provider:   provider.DeepSeek,
	})
	require.True(t, bare.OK())

	tr := &scriptedTransport{steps: []step{{text: nextAnswer}}}
	eng := NewEngine(tr, Options{
		Provider:    provider.DeepSeek,
		AutoFix:     true,
		TokenBudget: bare.Metadata.EstimatedTokens,
	})

	turn, err := eng.PlayRound(context.Background(), s, "继续")
	require.NoError(t, err)
	assert.Zero(t, turn.HistoryRounds)
	assert.Equal(t, bare.Prompt, tr.prompts[0])
}

func TestMaxHistoryRoundsLimitsPrompt(t *testing.T) {
	s := newSession(t)
	withHistory(s, 5)
	tr := &scriptedTransport{steps: []step{{text: nextAnswer}}}
	eng := NewEngine(tr, Options{Provider: provider.DeepSeek, MaxHistoryRounds: 2})

	turn, err := eng.PlayRound(context.Background(), s, "继续")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.HistoryRounds)
	assert.NotContains(t, tr.prompts[0], "第3段旁白")
	assert.Contains(t, tr.prompts[0], "第5段旁白")
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := TransportFunc(func(context.Context, string) (string, error) {
		cancel()
		return "", &apierror.HTTPError{StatusCode: 503}
	})
	eng := NewEngine(tr, Options{Provider: provider.DeepSeek, MaxRetries: 3})

	_, err := eng.PlayRound(ctx, newSession(t), "继续")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "请求已取消。", UserMessage(err, language.Chinese))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestRoundIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tr := &scriptedTransport{steps: []step{{text: nextAnswer}}}
	eng := newEngine(tr, provider.DeepSeek, nil, WithLogger(zap.New(core)))
	s := newSession(t)

	_, err := eng.PlayRound(context.Background(), s, "继续")
	require.NoError(t, err)

	entries := logs.FilterMessage("round complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, s.ID, fields["session"])
	assert.Equal(t, int64(1), fields["round"])
	assert.Equal(t, "deepseek", fields["provider"])
	assert.Equal(t, string(parser.MethodBraceMatch), fields["method"])
}

func TestApplyDelta(t *testing.T) {
	ext := models.ExtensionConfig{Entries: []models.Extension{{Name: "inventory", DataType: models.DataArray}}}
	extra := models.NewOrderedMap()
	extra.Set("mood", "calm")
	cd := models.NewOrderedMap()
	cd.Set("inventory", []any{"sword"})
	cd.Set(models.ExtraKey, extra)
	st := models.GameState{
		PlayerStatus: map[string]models.StatusValue{"hp": models.NumberValue(10), "name": models.TextValue("Li")},
		CustomData:   cd,
	}

	incomingExtra := models.NewOrderedMap()
	incomingExtra.Set("mood", "angry")
	incomingExtra.Set("weather", "rain")
	custom := models.NewOrderedMap()
	custom.Set("inventory", []any{"sword", "shield"})
	custom.Set("gold", float64(3))
	custom.Set(models.ExtraKey, incomingExtra)

	got := ApplyDelta(st, ext, &models.ParsedGameData{
		Status: map[string]models.StatusValue{
			"hp":   models.NumberValue(7),
			"name": {},
			"mp":   models.ProgressValue(1, 5),
		},
		Custom: custom,
	})

	assert.Equal(t, map[string]models.StatusValue{
		"hp":   models.NumberValue(7),
		"name": models.TextValue("Li"),
		"mp":   models.ProgressValue(1, 5),
	}, got.PlayerStatus)
	inv, _ := got.CustomData.Get("inventory")
	assert.Equal(t, []any{"sword", "shield"}, inv)
	assert.Equal(t, []string{"mood", "gold", "weather"}, got.Extra().Keys())
	mood, _ := got.Extra().Get("mood")
	assert.Equal(t, "angry", mood)

	// The input state is untouched.
	assert.Equal(t, models.NumberValue(10), st.PlayerStatus["hp"])
	mood, _ = st.Extra().Get("mood")
	assert.Equal(t, "calm", mood)
	assert.Equal(t, []string{"mood"}, st.Extra().Keys())
}

func TestApplyDeltaCreatesCustomData(t *testing.T) {
	custom := models.NewOrderedMap()
	custom.Set("clue", "footprints")

	got := ApplyDelta(models.GameState{}, models.ExtensionConfig{}, &models.ParsedGameData{Custom: custom})
	require.NotNil(t, got.Extra())
	clue, _ := got.Extra().Get("clue")
	assert.Equal(t, "footprints", clue)
	assert.Empty(t, got.PlayerStatus)
}

func TestResolveInput(t *testing.T) {
	opts := []models.Option{{ID: "A", Text: "向左"}, {ID: "B", Text: "向右"}, {ID: "C", Text: "原地等待"}}
	tests := []struct {
		in, want string
	}{
		{"A", "向左"},
		{" c ", "原地等待"},
		{"b", "向右"},
		{"D", "D"},
		{"  爬上屋顶 ", "爬上屋顶"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveInput(opts, tt.in), "input %q", tt.in)
	}
}

func TestUserMessageFallbacks(t *testing.T) {
	assert.Equal(t, "出现了意外错误，请重试。", UserMessage(errors.New("boom"), language.Chinese))
	assert.Equal(t, "Type an action or pick A, B or C.", UserMessage(ErrEmptyInput, language.English))
	assert.Equal(t, "出现了意外错误，请重试。", UserMessage(errors.New("boom"), language.Japanese))
	assert.True(t, strings.HasPrefix(UserMessage(errors.New("boom"), language.BritishEnglish), "Something went wrong"))
}
