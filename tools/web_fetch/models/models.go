package models

// Result is one retrieved page or resource.
type Result struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	HTMLHash    string `json:"html_hash"`
	Rendered    bool   `json:"rendered"`
	Truncated   bool   `json:"truncated"`
	RenderMS    int    `json:"render_ms"`
}

// OK reports a 2xx status.
func (r Result) OK() bool { return r.Status >= 200 && r.Status < 300 }
