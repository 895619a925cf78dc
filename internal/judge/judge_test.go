package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdictFallbackChain(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		want   Verdict
	}{
		{
			name: "bare json",
			text: `{"sentiment_score":0.4,"confidence":0.7,"reasoning":"ok","recommendation":"CAUTION"}`,
			want: Verdict{SentimentScore: 0.4, Confidence: 0.7, Reasoning: "ok", Recommendation: RecommendCaution},
		},
		{
			name: "fenced block",
			text: "Here you go:\n```json\n{\"sentiment_score\":-0.2,\"confidence\":0.8,\"reasoning\":\"thin\",\"recommendation\":\"REJECT\"}\n```\nthanks",
			want: Verdict{SentimentScore: -0.2, Confidence: 0.8, Reasoning: "thin", Recommendation: RecommendReject},
		},
		{
			name: "embedded in prose",
			text: `Approve: {"sentiment_score":0.8,"confidence":0.9,"reasoning":"strong","recommendation":"APPROVE"}`,
			want: Verdict{SentimentScore: 0.8, Confidence: 0.9, Reasoning: "strong", Recommendation: RecommendApprove},
		},
		{
			name: "clamped and defaulted",
			text: `{"sentiment_score":3,"confidence":"1.7"}`,
			want: Verdict{SentimentScore: 1, Confidence: 1, Reasoning: "Analysis completed", Recommendation: RecommendCaution},
		},
		{
			name: "negative clamp and unknown recommendation",
			text: `{"sentiment_score":-9,"confidence":-1,"recommendation":"buy"}`,
			want: Verdict{SentimentScore: -1, Confidence: 0, Reasoning: "Analysis completed", Recommendation: RecommendCaution},
		},
		{
			name: "no json",
			text: "market looks choppy",
			want: Verdict{SentimentScore: 0, Confidence: 0.5, Reasoning: "market looks choppy", Recommendation: RecommendCaution},
		},
		{
			name: "empty",
			text: "   ",
			want: Verdict{SentimentScore: 0, Confidence: 0.5, Reasoning: "Analysis completed", Recommendation: RecommendCaution},
		},
		{
			name: "broken braces",
			text: "{not json}",
			want: Verdict{SentimentScore: 0, Confidence: 0.5, Reasoning: "{not json}", Recommendation: RecommendCaution},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseVerdict(tc.text)
			assert.InDelta(t, tc.want.SentimentScore, got.SentimentScore, 1e-9)
			assert.InDelta(t, tc.want.Confidence, got.Confidence, 1e-9)
			assert.Equal(t, tc.want.Reasoning, got.Reasoning)
			assert.Equal(t, tc.want.Recommendation, got.Recommendation)
		})
	}
}

func TestVerdictApproved(t *testing.T) {
	assert.True(t, Verdict{Recommendation: RecommendApprove}.Approved())
	assert.True(t, Verdict{SentimentScore: 0.31, Confidence: 0.61, Recommendation: RecommendCaution}.Approved())
	assert.False(t, Verdict{SentimentScore: 0.3, Confidence: 0.9, Recommendation: RecommendCaution}.Approved())
	assert.False(t, Verdict{SentimentScore: 0.9, Confidence: 0.6, Recommendation: RecommendReject}.Approved())

	failed := ErrorVerdict(errors.New("dial tcp: connection refused"))
	assert.False(t, failed.Approved())
	assert.InDelta(t, 0.3, failed.Confidence, 1e-9)
	assert.Equal(t, "Error during analysis: dial tcp: connection refused", failed.Reasoning)
}

func TestBuildPrompt(t *testing.T) {
	op := Opportunity{
		Symbol:          "cmt_btcusdt",
		SpreadPct:       decimal.RequireFromString("2"),
		WeexPrice:       decimal.RequireFromString("100"),
		OtherPrice:      decimal.RequireFromString("102"),
		ProjectedProfit: decimal.RequireFromString("1.8"),
		RiskLevel:       "LOW",
	}
	prompt := BuildPrompt(op, ContextLines(op))

	for _, want := range []string{
		"Symbol: cmt_btcusdt",
		"Spread: 2.00%",
		"WEEX Price: $100.00",
		"Other Exchange Price: $102.00",
		"Projected Profit: $1.80",
		"Risk Level: LOW",
		"Additional Context:\nMarket spread: 2.00%",
		`"recommendation": "<APPROVE|REJECT|CAUTION>"`,
	} {
		assert.Contains(t, prompt, want)
	}
	assert.NotContains(t, BuildPrompt(op, nil), "Additional Context")
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{BaseURL: "http://localhost"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateKeepsZeroTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	zero := 0.0
	client, err := New(Options{BaseURL: srv.URL, APIKey: "secret", Temperature: &zero}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Contains(t, got, "temperature")
	assert.Zero(t, got["temperature"])
}

func TestGenerateSendsRequestAndExtractsText(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":"{\"sentiment_score\":0.6}","tokenUsage":317,"code":200}`))
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL, APIKey: "secret"}, zerolog.Nop())
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"sentiment_score":0.6}`, text)

	assert.Equal(t, "claude-3-5-sonnet-20240620", got.Model)
	assert.Equal(t, "anthropic", got.Service)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, Message{Role: "user", Content: "hello"}, got.Messages[0])
}

func TestExtractTextShapes(t *testing.T) {
	cases := map[string]string{
		`{"choices":[{"message":{"content":"a"}}]}`: "a",
		`{"message":"b"}`:                           "b",
		`{"message":{"content":"c"}}`:               "c",
		`{"text":"d"}`:                              "d",
		`{"content":"e"}`:                           "e",
		`{"data":{"sentiment_score":1}}`:            `{"sentiment_score":1}`,
		`plain words`:                               "plain words",
	}
	for raw, want := range cases {
		got, err := extractText([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := extractText([]byte(`{"error":"quota exceeded"}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "quota exceeded"))
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL, APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
