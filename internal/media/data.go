package media

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/quizrunner/internal/helpers"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
)

// maxTableRows bounds how many CSV records are kept in memory.
const maxTableRows = 100000

// normalizeData turns a data file into text context. CSV and TSV are parsed
// into a table summary plus a head of the raw file; JSON is compacted; other
// formats keep their bytes for providers that accept files.
func normalizeData(p *Payload, body []byte, url string, maxChars int) error {
	switch ext := helpers.Extension(url); {
	case ext == ".csv" || ext == ".tsv" || p.MIMEType == "text/csv" || p.MIMEType == "text/tab-separated-values":
		comma := ','
		if ext == ".tsv" || p.MIMEType == "text/tab-separated-values" {
			comma = '\t'
		}
		table, err := ParseCSV(body, comma)
		if err != nil {
			return err
		}
		p.Table = &table
		p.Text = table.Summary(p.Ref.Label) + "\n" + head(string(body), maxChars)
	case ext == ".json" || p.MIMEType == "application/json":
		var buf bytes.Buffer
		if err := json.Compact(&buf, bytes.TrimSpace(body)); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		p.Text = truncateRunes(buf.String(), maxChars)
	default:
		p.Data = body
		if p.MIMEType == "" || strings.HasPrefix(p.MIMEType, "text/plain") {
			p.Text = truncateRunes(string(body), maxChars)
		}
	}
	return nil
}

// ParseCSV reads a delimited file. The first record is treated as a header
// when none of its cells is numeric.
func ParseCSV(body []byte, comma rune) (quiz.Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\ufeff"))))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var t quiz.Table
	for len(t.Rows) < maxTableRows {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return quiz.Table{}, err
		}
		if t.Header == nil && len(t.Rows) == 0 && !anyNumeric(rec) {
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Header == nil && len(t.Rows) == 0 {
		return quiz.Table{}, errors.New("empty csv")
	}
	return t, nil
}

func anyNumeric(rec []string) bool {
	sample := quiz.Table{Rows: [][]string{rec}}
	return len(sample.Sums()) > 0
}

func head(s string, maxChars int) string {
	if maxChars <= 0 || maxChars > 2000 {
		maxChars = 2000
	}
	return truncateRunes(s, maxChars)
}
