// Package classify maps a task to the strategy used to answer it.
package classify

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
)

// Strategy is the closed set of handling approaches.
type Strategy string

const (
	Scrape     Strategy = "scrape"
	API        Strategy = "api"
	Cleanse    Strategy = "cleanse"
	Process    Strategy = "process"
	Analyze    Strategy = "analyze"
	Visualize  Strategy = "visualize"
	BestEffort Strategy = "best_effort"
)

// All lists every strategy, default arm last.
var All = []Strategy{Scrape, API, Cleanse, Process, Analyze, Visualize, BestEffort}

// RequiresMedia reports whether a task under s cannot be answered without
// its referenced resources.
func (s Strategy) RequiresMedia() bool {
	return s == Process || s == Scrape
}

// Instruction is the strategy-specific line added to the model prompt.
func (s Strategy) Instruction() string {
	switch s {
	case Scrape:
		return "The answer is contained in the referenced page or file; read it carefully and extract the requested value."
	case API:
		return "The task describes an API or JSON resource; use the attached response data to compute the answer."
	case Cleanse:
		return "The attached data is messy; normalise it (trim, deduplicate, fix types) before computing the answer."
	case Process:
		return "Transcribe or read the attached image/audio first, then answer using what it contains."
	case Analyze:
		return "Compute the answer precisely; show no working, return only the final value."
	case Visualize:
		return "The task asks for a chart or visual; describe the requested visual result as the answer value."
	}
	return "Answer as accurately as possible using everything provided."
}

var aliases = map[string]Strategy{
	"scrape":        Scrape,
	"scraping":      Scrape,
	"web":           Scrape,
	"api":           API,
	"api-consume":   API,
	"api_consume":   API,
	"clean":         Cleanse,
	"cleanse":       Cleanse,
	"cleaning":      Cleanse,
	"process":       Process,
	"ocr":           Process,
	"transcribe":    Process,
	"transcription": Process,
	"analyze":       Analyze,
	"analyse":       Analyze,
	"analysis":      Analyze,
	"math":          Analyze,
	"visualize":     Visualize,
	"visualise":     Visualize,
	"visualization": Visualize,
	"chart":         Visualize,
}

var keywords = map[Strategy][]string{
	Scrape:    {"scrape", "scraping", "visit the page", "from the page", "website", "html"},
	API:       {"api", "endpoint", "json response", "header", "request the"},
	Cleanse:   {"clean", "normalize", "normalise", "dedupe", "duplicate", "missing values", "whitespace"},
	Process:   {"transcribe", "audio", "ocr", "image", "picture", "photo", "listen", "spoken"},
	Analyze:   {"sum", "total", "average", "mean", "median", "count", "calculate", "compute", "how many", "correlation", "filter"},
	Visualize: {"chart", "plot", "graph", "visualize", "visualise", "histogram"},
}

var arithmeticRe = regexp.MustCompile(`\d+(\.\d+)?\s*[-+*/x×^]\s*\d+`)

// Classify picks a strategy. It never fails: explicit category metadata wins,
// then the strongest keyword match, then media modality, then BestEffort.
func Classify(t quiz.Task) Strategy {
	if s, ok := aliases[strings.ToLower(strings.TrimSpace(t.Category))]; ok {
		return s
	}

	q := strings.ToLower(t.Question)
	best, bestScore := BestEffort, 0
	for _, s := range All {
		score := 0
		for _, kw := range keywords[s] {
			if containsWord(q, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if arithmeticRe.MatchString(q) && bestScore <= 1 && best != Visualize {
		return Analyze
	}
	if bestScore > 0 {
		return best
	}

	for _, m := range t.Media {
		switch m.Modality {
		case quiz.ModalityImage, quiz.ModalityAudio:
			return Process
		case quiz.ModalityData:
			return Analyze
		}
	}
	return BestEffort
}

// containsWord matches kw on word boundaries so "sum" does not hit "summary".
func containsWord(s, kw string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(kw)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z'
}
