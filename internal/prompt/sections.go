package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tatianab/story-loop/internal/models"
)

// Section headers. Callers locate sections by these markers.
const (
	HeaderWorld       = "【世界观】"
	HeaderCharacter   = "【角色设定】"
	HeaderHistory     = "【历史回合】"
	HeaderStatus      = "【当前状态】"
	HeaderExtension   = "【扩展信息】"
	HeaderInput       = "【玩家行动】"
	HeaderRequirement = "【输出要求】"
)

const (
	defaultCharacters = "暂无特定角色设定，请根据世界观自由发挥。"
	systemAction      = "（系统推进）"
)

func worldSection(w models.WorldConfig) string {
	var b strings.Builder
	b.WriteString(HeaderWorld + "\n")
	b.WriteString(w.Background)
	if w.Rules != "" {
		b.WriteString("\n\n规则：\n")
		b.WriteString(w.Rules)
	}
	return b.String()
}

func characterSection(w models.WorldConfig) string {
	if w.Characters == "" {
		return HeaderCharacter + "\n" + defaultCharacters
	}
	return HeaderCharacter + "\n" + w.Characters
}

// historySection renders at most max rounds, the most recent ones, oldest first.
func historySection(history []models.GameRound, max int) string {
	if max <= 0 {
		max = DefaultMaxHistoryRounds
	}
	start := 0
	if len(history) > max {
		start = len(history) - max
	}

	lines := []string{HeaderHistory}
	for i := start; i < len(history); i++ {
		r := history[i]
		n := r.Round
		if n <= 0 {
			n = i + 1
		}
		action := r.UserInput
		if action == "" {
			action = systemAction
		}
		lines = append(lines, fmt.Sprintf("第%d回合：%s - %s", n, action, r.Response.Narration))
	}
	return strings.Join(lines, "\n")
}

// statusSection follows the configured field order; fields missing from the
// state are skipped.
func statusSection(cfg models.StatusConfig, st models.GameState) string {
	lines := []string{HeaderStatus}
	for _, f := range cfg.Fields {
		v, ok := st.PlayerStatus[f.Name]
		if !ok {
			continue
		}
		lines = append(lines, f.Label()+": "+v.String())
	}
	return strings.Join(lines, "\n")
}

func extensionSection(cfg models.ExtensionConfig, st models.GameState) string {
	lines := []string{HeaderExtension}
	for _, e := range cfg.Entries {
		v, ok := st.CustomData.Get(e.Name)
		if !ok {
			continue
		}
		lines = append(lines, e.Name+": "+FormatData(v))
	}
	extra := st.Extra()
	for _, k := range extra.Keys() {
		if cfg.Has(k) {
			continue
		}
		v, _ := extra.Get(k)
		lines = append(lines, k+": "+FormatData(v))
	}
	return strings.Join(lines, "\n")
}

func inputSection(input string) string {
	return HeaderInput + "\n" + input
}

// FormatData renders extension data on one line: arrays join with ", ",
// objects render as "key: value" pairs joined with ", ".
func FormatData(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return models.FormatNumber(t)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i := range t {
			parts[i] = FormatData(t[i])
		}
		return strings.Join(parts, ", ")
	case *models.OrderedMap:
		keys := t.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			val, _ := t.Get(k)
			parts[i] = k + ": " + FormatData(val)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + FormatData(t[k])
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}
