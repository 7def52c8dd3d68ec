package helpers

import "testing"

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"answer": 4}`, `{"answer": 4}`},
		{"fenced", "```json\n{\"answer\": \"x\"}\n```", `{"answer": "x"}`},
		{"prose around", `Sure! {"answer": "a}b", "n": [1,2]} hope it helps`, `{"answer": "a}b", "n": [1,2]}`},
		{"array", `result: [1, {"a": 2}]`, `[1, {"a": 2}]`},
	}
	for _, tc := range tests {
		got, err := ExtractJSON(tc.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
	if _, err := ExtractJSON("no json here"); err == nil {
		t.Fatalf("expected error for input without JSON")
	}
	if _, err := ExtractJSON(`{"open": [1, 2}`); err == nil {
		t.Fatalf("expected error for mismatched brackets")
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := StripCodeFence("~~~\n42\n~~~"); got != "42" {
		t.Fatalf("got %q", got)
	}
	if got := StripCodeFence("  plain  "); got != "plain" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "héllo"
	if got := Truncate(s, 2); got != "h" {
		t.Fatalf("expected cut before multibyte rune, got %q", got)
	}
	if got := Truncate(s, 100); got != s {
		t.Fatalf("expected untouched string, got %q", got)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base, ref, want string
	}{
		{"https://quiz.example.com/task1", "/task2", "https://quiz.example.com/task2"},
		{"https://quiz.example.com/a/b", "c.png", "https://quiz.example.com/a/c.png"},
		{"https://quiz.example.com/a", "https://cdn.example.com/x.mp3#t=1", "https://cdn.example.com/x.mp3"},
	}
	for _, tc := range tests {
		got, err := ResolveURL(tc.base, tc.ref)
		if err != nil {
			t.Fatalf("ResolveURL(%q,%q): %v", tc.base, tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveURL(%q,%q) = %q want %q", tc.base, tc.ref, got, tc.want)
		}
	}
	if _, err := ResolveURL("https://x", "javascript:alert(1)"); err == nil {
		t.Fatalf("expected scheme rejection")
	}
	if _, err := ResolveURL("", "/rel"); err == nil {
		t.Fatalf("expected error without absolute base")
	}
}

func TestSubmitFallbackAndExtension(t *testing.T) {
	if got := SubmitFallback("https://q.example.com/quiz/3/?x=1"); got != "https://q.example.com/quiz/3/submit" {
		t.Fatalf("got %q", got)
	}
	if got := Extension("https://q.example.com/data/sales.CSV?dl=1"); got != ".csv" {
		t.Fatalf("got %q", got)
	}
}
