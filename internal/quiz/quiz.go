// Package quiz models one quiz task, parses task pages and talks to the quiz
// server's task and submission endpoints.
package quiz

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/helpers"
)

// Modality tags a media payload with the kind of input the model receives.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
	ModalityData  Modality = "data"
)

// MediaRef points at a resource the task references.
type MediaRef struct {
	URL      string   `json:"url"`
	Modality Modality `json:"modality"`
	Label    string   `json:"label,omitempty"`
	// Required is set when the task document marks the resource as mandatory.
	Required bool `json:"required,omitempty"`
}

// Task is one fetched quiz task. It is never mutated after parsing.
type Task struct {
	URL       string     `json:"url"`
	Question  string     `json:"question"`
	Media     []MediaRef `json:"media,omitempty"`
	SubmitURL string     `json:"submit_url"`
	Category  string     `json:"category,omitempty"`
	Deadline  time.Time  `json:"deadline,omitempty"`
	// Context carries page material that is not the question itself:
	// decoded atob payloads, <pre> blocks and table summaries.
	Context []string `json:"context,omitempty"`
	Tables  []Table  `json:"tables,omitempty"`
	// NextHint is a next-task URL advertised by the task document. The loop
	// only follows URLs returned by the submission endpoint.
	NextHint string `json:"next_hint,omitempty"`
}

// HasMedia reports whether the task references any resource.
func (t Task) HasMedia() bool { return len(t.Media) > 0 }

// Answer is what gets submitted for a task.
type Answer struct {
	TaskURL string `json:"task_url"`
	Payload any    `json:"payload"`
	// Reasoning is the model's raw reply, kept for logs only.
	Reasoning string `json:"-"`
}

// String renders the payload for logs and summaries.
func (a Answer) String() string {
	switch v := a.Payload.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Submission is the parsed submission response.
type Submission struct {
	// NextURL is absolute, or empty when the response carried none.
	NextURL string
	// Correct is nil when the server did not say.
	Correct *bool
	Reason  string
	// Done is set when the server signalled completion explicitly.
	Done bool
	Raw  map[string]any
}

// Terminal reports whether the run cannot continue past this submission.
func (s Submission) Terminal() bool { return s.NextURL == "" }

// Rejected reports an explicit correct=false.
func (s Submission) Rejected() bool { return s.Correct != nil && !*s.Correct }

var (
	imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".svg": true}
	audioExt = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".opus": true, ".m4a": true, ".flac": true, ".webm": true}
	dataExt  = map[string]bool{".csv": true, ".json": true, ".xlsx": true, ".xls": true, ".pdf": true, ".tsv": true}
)

// ModalityOf infers a modality from a content type, falling back to the URL
// extension. Unknown resources are treated as text pages.
func ModalityOf(rawURL, contentType string) Modality {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return ModalityImage
	case strings.HasPrefix(ct, "audio/"):
		return ModalityAudio
	case ct == "text/csv", ct == "application/json", ct == "application/pdf",
		strings.Contains(ct, "spreadsheet"), strings.Contains(ct, "excel"):
		return ModalityData
	case strings.HasPrefix(ct, "text/"):
		return ModalityText
	}
	ext := helpers.Extension(rawURL)
	switch {
	case imageExt[ext]:
		return ModalityImage
	case audioExt[ext]:
		return ModalityAudio
	case dataExt[ext]:
		return ModalityData
	}
	return ModalityText
}

// isMediaLink reports whether an anchor target looks like a downloadable resource.
func isMediaLink(rawURL string) bool {
	ext := helpers.Extension(rawURL)
	return imageExt[ext] || audioExt[ext] || dataExt[ext] || ext == ".txt"
}

func labelFor(rawURL string) string {
	return path.Base(strings.SplitN(rawURL, "?", 2)[0])
}
