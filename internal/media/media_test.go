package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newMediaServer(t *testing.T, flaky *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cat.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	})
	mux.HandleFunc("/sales.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("region,amount\nnorth,10\nsouth,32.5\n"))
	})
	mux.HandleFunc("/clip.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	})
	mux.HandleFunc("/flaky.json", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{ "token" : "abc" }`))
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  the secret code is 7731  "))
	})
	return httptest.NewServer(mux)
}

func TestFetchNormalizesEachModality(t *testing.T) {
	var flaky atomic.Int32
	srv := newMediaServer(t, &flaky)
	defer srv.Close()

	refs := []quiz.MediaRef{
		{URL: srv.URL + "/cat.png", Label: "cat.png"},
		{URL: srv.URL + "/sales.csv", Label: "sales.csv"},
		{URL: srv.URL + "/clip.mp3", Modality: quiz.ModalityAudio},
		{URL: srv.URL + "/flaky.json"},
		{URL: srv.URL + "/article"},
	}
	payloads, err := New(WithRate(0)).Fetch(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, payloads, 5)

	assert.Equal(t, quiz.ModalityImage, payloads[0].Modality)
	assert.Equal(t, "image/png", payloads[0].MIMEType)
	assert.Equal(t, pngHeader, payloads[0].Data)

	assert.Equal(t, quiz.ModalityData, payloads[1].Modality)
	require.NotNil(t, payloads[1].Table)
	assert.Equal(t, []string{"region", "amount"}, payloads[1].Table.Header)
	assert.Contains(t, payloads[1].Text, "sales.csv: 2 rows, columns [region, amount]; sum(amount)=42.5 over 2 values")

	assert.Equal(t, quiz.ModalityAudio, payloads[2].Modality)
	assert.Equal(t, "audio/mpeg", payloads[2].MIMEType)

	assert.Equal(t, `{"token":"abc"}`, payloads[3].Text)
	assert.Equal(t, int32(2), flaky.Load(), "502 should be retried once")

	assert.Equal(t, quiz.ModalityText, payloads[4].Modality)
	assert.Equal(t, "the secret code is 7731", payloads[4].Text)
}

func TestFetchReportsUnavailableWithPartialResults(t *testing.T) {
	var flaky atomic.Int32
	srv := newMediaServer(t, &flaky)
	defer srv.Close()

	refs := []quiz.MediaRef{
		{URL: srv.URL + "/missing.png"},
		{URL: srv.URL + "/cat.png"},
		{URL: "http://127.0.0.1:1/unreachable.mp3"},
	}
	payloads, err := New(WithRate(0), WithRetries(0)).Fetch(context.Background(), refs)
	require.Error(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, srv.URL+"/cat.png", payloads[0].Ref.URL)

	var mu failure.MediaUnavailable
	require.ErrorAs(t, err, &mu)

	missing := Unavailable(err)
	require.Len(t, missing, 2)
	assert.Equal(t, srv.URL+"/missing.png", missing[0].URL)
	assert.Equal(t, "status 404", missing[0].Reason)
	assert.Equal(t, "unreachable", missing[1].Reason)
}

func TestFetchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Fetch(ctx, []quiz.MediaRef{{URL: "http://127.0.0.1:1/x.png"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCSVWithoutHeader(t *testing.T) {
	table, err := ParseCSV([]byte("1;2\n3;4\n"), ';')
	require.NoError(t, err)
	assert.Nil(t, table.Header)
	assert.Len(t, table.Rows, 2)
	sums := table.Sums()
	require.Len(t, sums, 2)
	assert.Equal(t, 4.0, sums[0].Sum)
	assert.Equal(t, 6.0, sums[1].Sum)
}
