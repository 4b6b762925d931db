package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/journal"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/prompt"
	"github.com/tatianab/story-loop/internal/provider"
	"github.com/tatianab/story-loop/internal/tui"
)

const fencedAnswer = "好的：\n```json\n" + `{"scene":"渡口","narration":"船夫在等你。","options":[{"id":"A","text":"上船"},{"id":"B","text":"付钱"},{"id":"C","text":"离开"}]}` + "\n```"

// run executes the command line in a clean working directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPromptCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "prompt", "--provider", "gemini", "--input", "推开门", "--meta")
	require.NoError(t, err)
	assert.Contains(t, out, prompt.HeaderWorld)
	assert.Contains(t, out, prompt.HeaderInput+"\n推开门")
	assert.Contains(t, out, strings.TrimSpace(prompt.Appendix(provider.Gemini)))
	assert.Contains(t, out, "tokens")
}

func TestPromptCommandRejectsUnknownProvider(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "prompt", "--provider", "openai")
	require.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	good := writeFile(t, "good.txt", fencedAnswer)
	bad := writeFile(t, "bad.txt", "我不知道该说什么。")

	out, err := run(t, "parse", "--provider", "deepseek", good, bad)
	require.EqualError(t, err, "1 of 2 answers failed to parse")
	assert.Contains(t, out, good+": ok method=markdown_json auto_fixed=false")
	assert.Contains(t, out, bad+": extraction failed")
}

func TestParseCommandEnvelope(t *testing.T) {
	t.Chdir(t.TempDir())
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": fencedAnswer}}},
	})
	require.NoError(t, err)
	path := writeFile(t, "body.json", string(body))

	out, err := run(t, "parse", "--envelope", "--json", path)
	require.NoError(t, err)
	assert.Contains(t, out, "http=openai")
	assert.Contains(t, out, `"scene": "渡口"`)
}

func TestParseCommandNoAutoFix(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "trailing.txt", `{"scene":"s","narration":"n","options":[{"id":"A","text":"a"},{"id":"B","text":"b"},{"id":"C","text":"c"},],}`)

	out, err := run(t, "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, "auto_fixed=true")

	out, err = run(t, "parse", "--no-autofix", path)
	require.Error(t, err)
	assert.Contains(t, out, "parsing failed")
}

func TestClassifyCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "classify", "--provider", "deepseek", "--status", "401", "--lang", "en",
		`{"error":{"message":"Authentication Fails","type":"authentication_error"}}`)
	require.NoError(t, err)

	var got recordView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "INVALID_API_KEY", string(got.Code))
	assert.Equal(t, "USER_ACTION", string(got.Recovery))
	assert.Equal(t, "DeepSeek", got.Provider)
	assert.Contains(t, got.UserMessage, "API key")
}

func TestClassifyCommandPlainMessage(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "classify", "--provider", "siliconflow", "request timed out after 60s")
	require.NoError(t, err)
	var got recordView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "TIMEOUT", string(got.Code))
	assert.True(t, got.Retryable)
}

func TestJournalCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, j.RecordRound(ctx, journal.RoundEntry{
		SessionID: "s1", Round: 1, RequestID: "r1", Provider: provider.DeepSeek,
		Method: "markdown_json", AutoFixed: true, Attempts: 1, Elapsed: time.Millisecond, At: time.Now(),
	}))
	require.NoError(t, j.RecordFailure(ctx, journal.FailureEntry{
		SessionID: "s1", Round: 1, RequestID: "r0", Provider: provider.DeepSeek,
		Kind: journal.KindParse, Phase: "extraction", Message: "no JSON", At: time.Now(),
	}))
	require.NoError(t, j.Close())

	out, err := run(t, "journal", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rounds: 1 (auto-fixed 1)")
	assert.Contains(t, out, "markdown_json")
	assert.Contains(t, out, "extraction")

	out, err = run(t, "journal", "--path", path, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "round 1: markdown_json attempts=1")
	assert.Contains(t, out, "round 1 failed: parse extraction: no JSON")
}

func TestOpenSession(t *testing.T) {
	cfg := &config.Config{SaveDir: t.TempDir()}

	fresh, err := openSession(cfg, PlayOptions{})
	require.NoError(t, err)
	assert.Empty(t, fresh.History)

	_, err = openSession(cfg, PlayOptions{Resume: "missing"})
	require.Error(t, err)

	fresh.History = []models.GameRound{{Round: 1, Response: models.RoundResponse{Narration: "n"}}}
	require.NoError(t, fresh.Save(cfg.SaveDir, tui.AutosaveName))

	resumed, err := openSession(cfg, PlayOptions{})
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, resumed.ID)

	restarted, err := openSession(cfg, PlayOptions{Fresh: true})
	require.NoError(t, err)
	assert.NotEqual(t, fresh.ID, restarted.ID)
}

func TestNewTransport(t *testing.T) {
	cfg := &config.Config{Provider: "siliconflow", SiliconFlowAPIKey: "sk"}
	tr, closeFn, err := NewTransport(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, closeFn())
	assert.NotNil(t, tr)
}
