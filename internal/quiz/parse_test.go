package quiz

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONTask(t *testing.T) {
	body := []byte(`{"question":"2+2?","next":"/task2","images":["/img/a.png"],"attachments":[{"url":"data.csv","required":true}]}`)
	task, err := Parse("https://quiz.example.com/task1", "application/json", body)
	require.NoError(t, err)

	assert.Equal(t, "2+2?", task.Question)
	assert.Equal(t, "https://quiz.example.com/task2", task.NextHint)
	assert.Equal(t, "https://quiz.example.com/task1/submit", task.SubmitURL)
	require.Len(t, task.Media, 2)
	assert.Equal(t, MediaRef{URL: "https://quiz.example.com/img/a.png", Modality: ModalityImage, Label: "a.png"}, task.Media[0])
	assert.Equal(t, ModalityData, task.Media[1].Modality)
	assert.True(t, task.Media[1].Required)
}

func TestParseJSONWithoutContentType(t *testing.T) {
	task, err := Parse("https://q.example.com/t", "text/plain", []byte(` {"prompt":"Name the capital","submit_url":"https://q.example.com/answer"}`))
	require.NoError(t, err)
	assert.Equal(t, "Name the capital", task.Question)
	assert.Equal(t, "https://q.example.com/answer", task.SubmitURL)
}

func TestParseHTMLDecodesAtobPayload(t *testing.T) {
	inner := `<p id="question">Download the <a href="/files/sales.csv">file</a> and sum the amount column.</p>` +
		`<p>Post your answer to https://quiz.example.com/submit</p>`
	page := `<html><body><div id="result"></div><script>
document.querySelector("#result").innerHTML = atob("` + base64.StdEncoding.EncodeToString([]byte(inner)) + `");
</script></body></html>`

	task, err := Parse("https://quiz.example.com/demo?email=x", "text/html", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Download the file and sum the amount column.", task.Question)
	assert.Equal(t, "https://quiz.example.com/submit", task.SubmitURL)
	require.Len(t, task.Media, 1)
	assert.Equal(t, "https://quiz.example.com/files/sales.csv", task.Media[0].URL)
	assert.Equal(t, ModalityData, task.Media[0].Modality)
}

func TestParseHTMLMediaTablesAndForm(t *testing.T) {
	page := `<html><body>
<div class="question">Which animal is shown and what is said in the clip?</div>
<img src="cat.jpg"><audio controls><source src="/clip.opus"></audio>
<table><tr><th>item</th><th>qty</th></tr><tr><td>a</td><td>2</td></tr><tr><td>b</td><td>3.5</td></tr></table>
<form action="/quiz/7/answer" method="post"></form>
</body></html>`
	task, err := Parse("https://q.example.com/quiz/7/", "text/html; charset=utf-8", []byte(page))
	require.NoError(t, err)

	assert.Equal(t, "https://q.example.com/quiz/7/answer", task.SubmitURL)
	require.Len(t, task.Media, 2)
	assert.Equal(t, ModalityImage, task.Media[0].Modality)
	assert.Equal(t, "https://q.example.com/quiz/7/cat.jpg", task.Media[0].URL)
	assert.Equal(t, ModalityAudio, task.Media[1].Modality)

	require.Len(t, task.Tables, 1)
	assert.Equal(t, []string{"item", "qty"}, task.Tables[0].Header)
	assert.Contains(t, task.Context, "table 1: 2 rows, columns [item, qty]; sum(qty)=5.5 over 2 values")
}

func TestParseHTMLPreJSON(t *testing.T) {
	page := `<html><body><pre>{"question": "What is 3*7?", "submit": "/s", "category": "analyze"}</pre></body></html>`
	task, err := Parse("https://q.example.com/t3", "text/html", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "What is 3*7?", task.Question)
	assert.Equal(t, "analyze", task.Category)
	assert.Equal(t, "https://q.example.com/s", task.SubmitURL)
}

func TestParseEmptyPage(t *testing.T) {
	_, err := Parse("https://q.example.com/t", "text/html", []byte(`<html><body><script>render()</script></body></html>`))
	assert.ErrorIs(t, err, ErrEmptyTask)
}

func TestModalityOf(t *testing.T) {
	assert.Equal(t, ModalityImage, ModalityOf("https://x/y", "image/png"))
	assert.Equal(t, ModalityAudio, ModalityOf("https://x/y.mp3", ""))
	assert.Equal(t, ModalityData, ModalityOf("https://x/y", "text/csv; charset=utf-8"))
	assert.Equal(t, ModalityText, ModalityOf("https://x/page", "text/html"))
}

func TestTableSums(t *testing.T) {
	tbl := Table{Header: []string{"name", "amount"}, Rows: [][]string{{"a", "$1,200"}, {"b", "n/a"}, {"c", "-200"}}}
	sums := tbl.Sums()
	require.Len(t, sums, 1)
	assert.Equal(t, ColumnSum{Column: "amount", Sum: 1000, Count: 2}, sums[0])
}
