package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

func TestParseSummaryType(t *testing.T) {
	tests := []struct {
		in      string
		want    SummaryType
		wantErr bool
	}{
		{"", SummaryShort, false},
		{"short", SummaryShort, false},
		{"GENERAL", SummaryGeneral, false},
		{"detailed", SummaryDetailed, false},
		{"bullet-points", SummaryBulletPoints, false},
		{"key_points", SummaryKeyPoints, false},
		{"haiku", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSummaryType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEverySummaryTypeHasATemplate(t *testing.T) {
	for _, st := range SummaryTypes() {
		prompt, err := renderSummary(st, "THE BODY")
		require.NoError(t, err, st)
		assert.Contains(t, prompt, "THE BODY", st)
	}
	_, err := renderSummary("nope", "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRenderAnswer(t *testing.T) {
	prompt, err := renderAnswer("What is the fee?", []domain.QueryResult{
		{Filename: "a.pdf", Page: 2, Text: "The fee is 10 EUR."},
		{Filename: "b.pdf", Page: 7, Text: "Fees are waived for students."},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "[1] a.pdf, page 2:\nThe fee is 10 EUR.")
	assert.Contains(t, prompt, "[2] b.pdf, page 7:")
	assert.True(t, strings.HasSuffix(prompt, "Question: What is the fee?"))
}

type fakeCompleter struct {
	got   []Message
	reply string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	f.got = messages
	return f.reply, f.err
}

func TestService(t *testing.T) {
	llm := &fakeCompleter{reply: "  It costs 10 EUR [1].\n"}
	svc := NewService(llm, nil)

	answer, err := svc.Answer(context.Background(), "What is the fee?", []domain.QueryResult{{Filename: "a.pdf", Page: 1, Text: "10 EUR"}})
	require.NoError(t, err)
	assert.Equal(t, "It costs 10 EUR [1].", answer)
	require.Len(t, llm.got, 2)
	assert.Equal(t, "system", llm.got[0].Role)
	assert.Contains(t, llm.got[1].Content, "10 EUR")

	_, err = svc.Answer(context.Background(), "q", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Answer(context.Background(), " ", []domain.QueryResult{{Text: "x"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	llm.reply = "summary"
	out, err := svc.Summarize(context.Background(), strings.Repeat("word ", 20000), SummaryBulletPoints)
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	assert.LessOrEqual(t, len(llm.got[1].Content), maxSummaryChars+200)

	_, err = svc.Summarize(context.Background(), "", SummaryShort)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 10))
	assert.Equal(t, "ab", clip("abc", 2))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", clip("aé", 2))
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		BaseURL:           url + "/v1/",
		APIKey:            "sk-test",
		BaseBackoff:       time.Millisecond,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultModel, req.Model)
		assert.Len(t, req.Messages, 1)
		writeChat(w, "hello")
	})

	out, err := newClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAIClient_RetriesTransient(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			writeChat(w, "ok")
		}
	})

	out, err := newClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_FatalNotRetried(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	_, err := newClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSynthesisService)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_GivesUp(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := newClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSynthesisService)
	assert.False(t, isRetryableError(err))
	assert.Equal(t, int32(defaultMaxRetries+1), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	_, err := newClient(t, srv.URL).Complete(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrSynthesisService)
}

func TestOpenAIClient_Canceled(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(t, srv.URL).Complete(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpenAIClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
