package inference

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/quizrunner/internal/classify"
	"github.com/mohammad-safakhou/quizrunner/internal/helpers"
	"github.com/mohammad-safakhou/quizrunner/internal/media"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/models"
)

const systemPrompt = `You solve one step of an automated quiz.
Read the task and any attached material, work out the single answer the task asks for, and reply ONLY with a JSON object of the form {"answer": <value>}.
Use a JSON number for numeric answers, true/false for yes/no answers, a string for text, and an object or array only when the task explicitly asks for structured data.
Never include explanations outside the JSON object.`

const maxPromptContext = 12000

// BuildRequest assembles the provider-neutral request for a task.
func BuildRequest(task quiz.Task, strategy classify.Strategy, payloads []media.Payload) models.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Task URL: %s\n", task.URL)
	fmt.Fprintf(&b, "Strategy: %s. %s\n\n", strategy, strategy.Instruction())
	fmt.Fprintf(&b, "Question:\n%s\n", task.Question)
	if len(task.Context) > 0 {
		b.WriteString("\nPage context:\n")
		for _, c := range task.Context {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	parts := []models.Part{}
	for _, p := range payloads {
		name := p.Ref.Label
		if name == "" {
			name = p.Ref.URL
		}
		switch {
		case p.Text != "":
			fmt.Fprintf(&b, "\nAttached %s (%s):\n%s\n", name, p.Modality, p.Text)
		case p.Modality == quiz.ModalityImage:
			parts = append(parts, models.Part{Kind: models.PartImage, MIMEType: p.MIMEType, Data: p.Data, Name: name})
		case p.Modality == quiz.ModalityAudio:
			parts = append(parts, models.Part{Kind: models.PartAudio, MIMEType: p.MIMEType, Data: p.Data, Name: name})
		case len(p.Data) > 0:
			parts = append(parts, models.Part{Kind: models.PartFile, MIMEType: p.MIMEType, Data: p.Data, Name: name})
		}
	}
	text := helpers.Truncate(b.String(), maxPromptContext)
	return models.Request{
		System: systemPrompt,
		Parts:  append([]models.Part{models.TextPart(text)}, parts...),
		JSON:   true,
	}
}

// ParseAnswer extracts the value of {"answer": ...} from a model reply. Replies
// without that shape are used verbatim; numeric strings become numbers.
func ParseAnswer(text string) any {
	if raw, err := helpers.ExtractJSON(text); err == nil {
		var doc map[string]any
		if json.Unmarshal([]byte(raw), &doc) == nil {
			if v, ok := doc["answer"]; ok {
				return coerce(v)
			}
		}
	}
	return coerce(stripped(text))
}

func stripped(text string) string {
	s := strings.TrimSpace(helpers.StripCodeFence(text))
	return strings.Trim(s, `"`)
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if len(t) > 1 && t[0] == '0' && t[1] != '.' {
		return t
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !strings.ContainsAny(t, "xXeEnNiI_") {
		return f
	}
	return t
}
