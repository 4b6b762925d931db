package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/provider"
)

//go:embed templates/requirement.txt
var requirementPrompt string

//go:embed appendix/*.txt
var appendixFS embed.FS

var requirementTmpl = template.Must(template.New("requirement").Parse(requirementPrompt))

// appendices holds one output-format note per provider, keyed by provider.
var appendices = loadAppendices()

func loadAppendices() map[provider.Provider]string {
	out := make(map[provider.Provider]string)
	for _, p := range provider.All() {
		data, err := appendixFS.ReadFile("appendix/" + string(p) + ".txt")
		if err != nil {
			continue
		}
		out[p] = strings.TrimSpace(string(data))
	}
	return out
}

// Appendix returns the provider-specific output notes, empty for unknown
// providers.
func Appendix(p provider.Provider) string {
	return appendices[p]
}

func requirementSection(status models.StatusConfig, ext models.ExtensionConfig, p provider.Provider) (string, error) {
	example, err := ExampleJSON(status, ext)
	if err != nil {
		return "", err
	}

	data := struct {
		Example       string
		StatusKeys    string
		ExtensionKeys string
		Appendix      string
	}{
		Example:       example,
		StatusKeys:    "（无）",
		ExtensionKeys: "（无）",
		Appendix:      Appendix(p),
	}
	if len(status.Fields) > 0 {
		names := make([]string, len(status.Fields))
		for i, f := range status.Fields {
			names[i] = f.Name
		}
		data.StatusKeys = strings.Join(names, ", ")
	}
	if len(ext.Entries) > 0 {
		names := make([]string, len(ext.Entries))
		for i, e := range ext.Entries {
			names[i] = e.Name
		}
		data.ExtensionKeys = strings.Join(names, ", ")
	}

	var buf bytes.Buffer
	if err := requirementTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ExampleJSON builds the literal response example shown to the model, with
// status and custom keys in configured order, indented by two spaces.
func ExampleJSON(status models.StatusConfig, ext models.ExtensionConfig) (string, error) {
	example := models.NewOrderedMap()
	example.Set("scene", "当前场景的简短描述")
	example.Set("narration", "1-3 句剧情叙述")

	options := make([]any, 0, 3)
	for _, id := range []string{"A", "B", "C"} {
		o := models.NewOrderedMap()
		o.Set("id", id)
		o.Set("text", "选项"+id+"的内容")
		options = append(options, o)
	}
	example.Set("options", options)

	if len(status.Fields) > 0 {
		st := models.NewOrderedMap()
		for _, f := range status.Fields {
			st.Set(f.Name, statusPlaceholder(f.Type))
		}
		example.Set("status", st)
	}
	if len(ext.Entries) > 0 {
		custom := models.NewOrderedMap()
		for _, e := range ext.Entries {
			custom.Set(e.Name, extensionPlaceholder(e.DataType))
		}
		example.Set("custom", custom)
	}

	raw, err := example.MarshalJSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func statusPlaceholder(t models.FieldType) any {
	switch t {
	case models.FieldNumber:
		return 100.0
	case models.FieldProgress:
		p := models.NewOrderedMap()
		p.Set("value", 80.0)
		p.Set("max", 100.0)
		return p
	}
	return "文本"
}

func extensionPlaceholder(t models.DataType) any {
	switch t {
	case models.DataArray:
		return []any{"条目1", "条目2"}
	case models.DataObject:
		o := models.NewOrderedMap()
		o.Set("键", "值")
		return o
	}
	return "值"
}
