package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/llm"
)

// scriptedGenerator returns a fixed answer and records the last request.
type scriptedGenerator struct {
	out  string
	err  error
	last llm.Request
	n    int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.last = req
	g.n++
	return g.out, g.err
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fence with chatter", "Here you go:\n```json\n{\"a\":1}\n```\nEnjoy", `{"a":1}`},
		{"json tag", "JSON {\"a\":1}", `{"a":1}`},
		{"stray fence", "{\"a\":1}```", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
		{"empty fence", "```json\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestTranslateFencedOutput(t *testing.T) {
	gen := &scriptedGenerator{out: "```json\n{\"totalSpent\":{\"$eq\":100}}\n```"}
	tr := NewTranslator(gen, WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }))

	got, err := tr.Translate(context.Background(), "Users who spent exactly $100")
	require.NoError(t, err)

	assert.JSONEq(t, `{"totalSpent":{"$eq":100}}`, string(got.Rule))
	c, ok := got.Filter.(*Condition)
	require.True(t, ok)
	assert.Equal(t, 100.0, c.Value.Num)

	assert.Equal(t, "Users who spent exactly $100", gen.last.Prompt)
	assert.Equal(t, float32(0.1), gen.last.Temperature)
	assert.Equal(t, 512, gen.last.MaxTokens)
	assert.Equal(t, "translate", gen.last.Operation)
	assert.Contains(t, gen.last.System, "Today is 2025-06-01")
	assert.Contains(t, gen.last.System, "$nor")
}

func TestTranslateRoundTrip(t *testing.T) {
	gen := &scriptedGenerator{out: `{"totalSpent":{"$eq":100}}`}
	got, err := NewTranslator(gen).Translate(context.Background(), "spent 100")
	require.NoError(t, err)

	var rule map[string]any
	require.NoError(t, json.Unmarshal(got.Rule, &rule))
	assert.Equal(t, map[string]any{"totalSpent": map[string]any{"$eq": 100.0}}, rule)
}

func TestTranslateEmptyPrompt(t *testing.T) {
	gen := &scriptedGenerator{}
	_, err := NewTranslator(gen).Translate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Zero(t, gen.n, "generator must not be called")
}

func TestTranslateEmptyResponse(t *testing.T) {
	_, err := NewTranslator(&scriptedGenerator{out: "```\n```"}).Translate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyModelResponse)
}

func TestTranslateMalformed(t *testing.T) {
	for _, out := range []string{"I cannot help with that", `["totalSpent"]`, `"x"`} {
		_, err := NewTranslator(&scriptedGenerator{out: out}).Translate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrMalformedModelResponse, out)

		var mre *ModelResponseError
		require.ErrorAs(t, err, &mre)
		assert.Equal(t, out, mre.Raw)
	}
}

func TestTranslateDisallowedContent(t *testing.T) {
	gen := &scriptedGenerator{out: `{"$where":"sleep(1000)"}`}
	_, err := NewTranslator(gen).Translate(context.Background(), "x")

	assert.ErrorIs(t, err, ErrDisallowedFilterContent)
	assert.ErrorIs(t, err, ErrDisallowedOperator)
	key, ok := RejectedKey(err)
	require.True(t, ok)
	assert.Equal(t, "$where", key)
}

func TestTranslateStructurallyInvalid(t *testing.T) {
	gen := &scriptedGenerator{out: `{"totalSpent":{"$regex":"1"}}`}
	_, err := NewTranslator(gen).Translate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisallowedFilterContent)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestTranslateUpstreamFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	_, err := NewTranslator(&scriptedGenerator{err: boom}).Translate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, boom)
}

func TestDescribe(t *testing.T) {
	gen := &scriptedGenerator{out: "  Customers who spent exactly 100.\n"}
	got, err := NewTranslator(gen).Describe(context.Background(), json.RawMessage(`{"totalSpent":{"$eq":100}}`))
	require.NoError(t, err)

	assert.Equal(t, "Customers who spent exactly 100.", got)
	assert.Equal(t, "describe", gen.last.Operation)
	assert.Equal(t, `{"totalSpent":{"$eq":100}}`, gen.last.Prompt)
	assert.Equal(t, DescribeSystemPrompt(), gen.last.System)
}

func TestDescribeFailure(t *testing.T) {
	_, err := NewTranslator(&scriptedGenerator{err: errors.New("down")}).Describe(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestTopN(t *testing.T) {
	tests := []struct {
		prompt string
		n      int
		ok     bool
	}{
		{"top 5 customers by spend", 5, true},
		{"Top10 who spent the most", 10, true},
		{"TOP 0 spenders", DefaultTopN, true},
		{"top 500 by amount spent", MaxTopN, true},
		{"top 99999999999999999999 spend", DefaultTopN, true},
		{"top 5 customers", 0, false},
		{"customers who spent over 100", 0, false},
		{"biggest spenders", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			n, ok := TopN(tt.prompt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.n, n)
		})
	}
}
