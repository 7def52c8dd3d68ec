package quiz

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/mohammad-safakhou/quizrunner/internal/helpers"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/readable"
)

// ErrEmptyTask is returned when a page yields neither a question nor media.
var ErrEmptyTask = errors.New("task page has no question or media")

const maxContextChars = 4000

var (
	selQuestion  = cascadia.MustCompile("#question, .question, [data-question]")
	selSubmitURL = cascadia.MustCompile("#submit-url, [data-submit-url]")
	selForm      = cascadia.MustCompile("form[action]")
	selSubmitA   = cascadia.MustCompile("a[href*=submit]")
	selPre       = cascadia.MustCompile("pre")
	selImg       = cascadia.MustCompile("img[src]")
	selAudio     = cascadia.MustCompile("audio[src], audio source[src], video source[src]")
	selLink      = cascadia.MustCompile("a[href]")
	selTable     = cascadia.MustCompile("table")
	selRow       = cascadia.MustCompile("tr")
	selCell      = cascadia.MustCompile("th, td")

	atobRe      = regexp.MustCompile(`atob\(\s*["'\x60]([A-Za-z0-9+/=\s]+)["'\x60]\s*\)`)
	submitURLRe = regexp.MustCompile(`(?i)https?://[^\s"'<>` + "`" + `]*submit[^\s"'<>` + "`" + `]*`)
)

// Parse turns a fetched task page into a Task. JSON documents are read by
// field name; anything else is treated as HTML.
func Parse(taskURL, contentType string, body []byte) (Task, error) {
	trimmed := bytes.TrimSpace(body)
	if strings.Contains(strings.ToLower(contentType), "json") || bytes.HasPrefix(trimmed, []byte("{")) {
		var doc map[string]any
		if err := json.Unmarshal(trimmed, &doc); err == nil {
			return parseJSON(taskURL, doc)
		}
	}
	return parseHTML(taskURL, body)
}

func parseJSON(taskURL string, doc map[string]any) (Task, error) {
	t := Task{URL: taskURL}
	mergeDocument(&t, doc)
	if raw, ok := doc["data"]; ok {
		if b, err := json.Marshal(raw); err == nil {
			t.Context = append(t.Context, "data: "+helpers.Truncate(string(b), maxContextChars))
		}
	}
	if s, ok := doc["context"].(string); ok && strings.TrimSpace(s) != "" {
		t.Context = append(t.Context, helpers.Truncate(strings.TrimSpace(s), maxContextChars))
	}
	return finish(t)
}

// mergeDocument fills the fields of t that are still empty from a JSON task
// document. It is also used for JSON found inside HTML pages.
func mergeDocument(t *Task, doc map[string]any) {
	if t.Question == "" {
		t.Question = firstString(doc, "question", "prompt", "task", "instructions", "text")
	}
	if t.Category == "" {
		t.Category = firstString(doc, "category", "type", "kind")
	}
	if t.SubmitURL == "" {
		if s := firstString(doc, "submit", "submit_url", "submitUrl", "submission_url"); s != "" {
			if abs, err := helpers.ResolveURL(t.URL, s); err == nil {
				t.SubmitURL = abs
			}
		}
	}
	if t.NextHint == "" {
		if s := firstString(doc, "next", "next_url", "nextTaskUrl"); s != "" {
			if abs, err := helpers.ResolveURL(t.URL, s); err == nil {
				t.NextHint = abs
			}
		}
	}
	if t.Deadline.IsZero() {
		if s := firstString(doc, "deadline", "expires_at"); s != "" {
			if d, err := time.Parse(time.RFC3339, s); err == nil {
				t.Deadline = d
			}
		}
	}
	for _, key := range []string{"media", "images", "image", "audio", "files", "attachments", "file_url", "data_url"} {
		v, ok := doc[key]
		if !ok {
			continue
		}
		for _, ref := range mediaFromValue(t.URL, key, v) {
			t.Media = appendMedia(t.Media, ref)
		}
	}
}

func mediaFromValue(base, key string, v any) []MediaRef {
	hinted := Modality("")
	switch key {
	case "images", "image":
		hinted = ModalityImage
	case "audio":
		hinted = ModalityAudio
	}
	var out []MediaRef
	add := func(raw, declared string, required bool) {
		abs, err := helpers.ResolveURL(base, raw)
		if err != nil {
			return
		}
		m := hinted
		if declared != "" {
			m = normalizeModality(declared)
		}
		if m == "" {
			m = ModalityOf(abs, "")
		}
		out = append(out, MediaRef{URL: abs, Modality: m, Label: labelFor(abs), Required: required})
	}
	switch val := v.(type) {
	case string:
		add(val, "", false)
	case map[string]any:
		add(firstString(val, "url", "src", "href"), firstString(val, "type", "modality", "kind"), val["required"] == true)
	case []any:
		for _, item := range val {
			out = append(out, mediaFromValue(base, key, item)...)
		}
	}
	return out
}

func normalizeModality(s string) Modality {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "image"), s == "img", s == "png", s == "jpg", s == "jpeg":
		return ModalityImage
	case strings.HasPrefix(s, "audio"), s == "mp3", s == "wav", s == "opus":
		return ModalityAudio
	case s == "csv", s == "json", s == "data", s == "pdf", s == "xlsx", s == "file":
		return ModalityData
	case s == "text", s == "html", s == "page", s == "txt":
		return ModalityText
	}
	return ""
}

func parseHTML(taskURL string, body []byte) (Task, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Task{}, fmt.Errorf("parse task html: %w", err)
	}
	t := Task{URL: taskURL}
	raw := string(body)

	docs := []*html.Node{doc}
	var decoded []string
	for _, m := range atobRe.FindAllStringSubmatch(raw, -1) {
		s, ok := decodeBase64(m[1])
		if !ok {
			continue
		}
		decoded = append(decoded, s)
		trimmed := strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(trimmed, "{"):
			var jd map[string]any
			if json.Unmarshal([]byte(trimmed), &jd) == nil {
				mergeDocument(&t, jd)
			}
		case strings.Contains(trimmed, "<"):
			if n, err := html.Parse(strings.NewReader(trimmed)); err == nil {
				docs = append(docs, n)
			}
		}
	}

	// Decoded payloads usually carry the real task, so they are searched first.
	ordered := append(append([]*html.Node{}, docs[1:]...), doc)

	for _, d := range ordered {
		if t.Question != "" {
			break
		}
		if n := selQuestion.MatchFirst(d); n != nil {
			t.Question = textOf(n)
		}
	}

	for _, d := range docs {
		for _, pre := range selPre.MatchAll(d) {
			text := strings.TrimSpace(textOf(pre))
			if text == "" {
				continue
			}
			var jd map[string]any
			if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &jd) == nil {
				mergeDocument(&t, jd)
			}
			t.Context = append(t.Context, helpers.Truncate(text, maxContextChars))
		}
	}

	for _, s := range decoded {
		if n, err := html.Parse(strings.NewReader(s)); err == nil {
			s = textOf(n)
		}
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if t.Question == "" {
			t.Question = helpers.Truncate(s, maxContextChars)
			continue
		}
		t.Context = append(t.Context, helpers.Truncate(s, maxContextChars))
	}

	if t.Question == "" {
		if article, _, err := readable.FromHTML(raw, taskURL, maxContextChars); err == nil && article.Text != "" {
			t.Question = article.Text
		} else {
			t.Question = helpers.Truncate(textOf(doc), maxContextChars)
		}
	}

	if t.SubmitURL == "" {
		t.SubmitURL = findSubmitURL(taskURL, ordered, append([]string{raw}, decoded...))
	}

	for _, d := range docs {
		collectMedia(&t, d)
		for _, tbl := range selTable.MatchAll(d) {
			table := tableOf(tbl)
			if len(table.Rows) == 0 {
				continue
			}
			t.Tables = append(t.Tables, table)
			t.Context = append(t.Context, table.Summary(fmt.Sprintf("table %d", len(t.Tables))))
		}
	}
	return finish(t)
}

func findSubmitURL(base string, docs []*html.Node, sources []string) string {
	resolve := func(ref string) string {
		abs, err := helpers.ResolveURL(base, ref)
		if err != nil {
			return ""
		}
		return abs
	}
	for _, d := range docs {
		if n := selSubmitURL.MatchFirst(d); n != nil {
			for _, key := range []string{"href", "data-url", "data-submit-url", "value"} {
				if v := attr(n, key); v != "" {
					if abs := resolve(v); abs != "" {
						return abs
					}
				}
			}
			if abs := resolve(textOf(n)); abs != "" {
				return abs
			}
		}
	}
	for _, d := range docs {
		if n := selForm.MatchFirst(d); n != nil {
			if abs := resolve(attr(n, "action")); abs != "" {
				return abs
			}
		}
	}
	for _, src := range sources {
		if m := submitURLRe.FindString(src); m != "" {
			if abs := resolve(strings.TrimRight(m, ".,;)")); abs != "" {
				return abs
			}
		}
	}
	for _, d := range docs {
		if n := selSubmitA.MatchFirst(d); n != nil {
			if abs := resolve(attr(n, "href")); abs != "" {
				return abs
			}
		}
	}
	return helpers.SubmitFallback(base)
}

func collectMedia(t *Task, doc *html.Node) {
	add := func(ref string, m Modality) {
		abs, err := helpers.ResolveURL(t.URL, ref)
		if err != nil || abs == t.SubmitURL || abs == t.URL {
			return
		}
		if m == "" {
			m = ModalityOf(abs, "")
		}
		t.Media = appendMedia(t.Media, MediaRef{URL: abs, Modality: m, Label: labelFor(abs)})
	}
	for _, n := range selImg.MatchAll(doc) {
		add(attr(n, "src"), ModalityImage)
	}
	for _, n := range selAudio.MatchAll(doc) {
		add(attr(n, "src"), ModalityAudio)
	}
	for _, n := range selLink.MatchAll(doc) {
		if href := attr(n, "href"); isMediaLink(href) {
			add(href, "")
		}
	}
}

func appendMedia(refs []MediaRef, ref MediaRef) []MediaRef {
	for i, r := range refs {
		if r.URL == ref.URL {
			refs[i].Required = r.Required || ref.Required
			return refs
		}
	}
	return append(refs, ref)
}

func tableOf(n *html.Node) Table {
	var t Table
	for i, row := range selRow.MatchAll(n) {
		var (
			cells    []string
			isHeader = true
		)
		for _, c := range selCell.MatchAll(row) {
			cells = append(cells, strings.TrimSpace(textOf(c)))
			if c.Data != "th" {
				isHeader = false
			}
		}
		if len(cells) == 0 {
			continue
		}
		if i == 0 && isHeader {
			t.Header = cells
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func finish(t Task) (Task, error) {
	t.Question = strings.TrimSpace(t.Question)
	if t.SubmitURL == "" {
		t.SubmitURL = helpers.SubmitFallback(t.URL)
	}
	if t.Question == "" && len(t.Media) == 0 {
		return t, ErrEmptyTask
	}
	return t, nil
}

func decodeBase64(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), "")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return string(b), true
		}
	}
	return "", false
}

// textOf concatenates the visible text below n with whitespace collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
