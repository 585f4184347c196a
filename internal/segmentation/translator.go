package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/audience-crm/internal/llm"
)

const (
	translateTemperature = 0.1
	translateMaxTokens   = 512
	describeTemperature  = 0.4
	describeMaxTokens    = 256
)

var (
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	jsonTag     = regexp.MustCompile(`(?i)^json\s*`)
)

// Sanitize strips markdown decoration from a model response. When the text
// contains a fenced block, the body of the first block is kept; stray fence
// markers and a leading "json" language tag are removed.
func Sanitize(text string) string {
	text = strings.TrimSpace(text)
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	text = jsonTag.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Translation is a validated filter produced from a prompt.
type Translation struct {
	Filter Filter
	// Rule is the canonical JSON of the filter, suitable for storage.
	Rule json.RawMessage
	// Raw is the unmodified model output, for logs only.
	Raw string
}

// Translator turns natural-language audience descriptions into filters.
type Translator struct {
	gen llm.Generator
	now func() time.Time
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithClock overrides the time source used to date the instruction.
func WithClock(now func() time.Time) TranslatorOption {
	return func(t *Translator) { t.now = now }
}

// NewTranslator creates a Translator backed by gen.
func NewTranslator(gen llm.Generator, opts ...TranslatorOption) *Translator {
	t := &Translator{gen: gen, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate asks the model for a filter and accepts it only if every key is
// whitelisted and the document parses. It never touches persistent state.
func (t *Translator) Translate(ctx context.Context, prompt string) (*Translation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	raw, err := t.gen.Generate(ctx, llm.Request{
		System:      FilterSystemPrompt(t.now()),
		Prompt:      prompt,
		Temperature: translateTemperature,
		MaxTokens:   translateMaxTokens,
		Operation:   "translate",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	cleaned := Sanitize(raw)
	if cleaned == "" {
		return nil, &ModelResponseError{Raw: raw, Err: ErrEmptyModelResponse}
	}

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, &ModelResponseError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedModelResponse, err)}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ModelResponseError{Raw: raw, Err: ErrMalformedModelResponse}
	}

	if err := Validate(obj); err != nil {
		return nil, &ModelResponseError{Raw: raw, Err: fmt.Errorf("%w: %w", ErrDisallowedFilterContent, err)}
	}
	filter, err := Parse(obj)
	if err != nil {
		return nil, &ModelResponseError{Raw: raw, Err: fmt.Errorf("%w: %w", ErrDisallowedFilterContent, err)}
	}

	rule, err := json.Marshal(obj)
	if err != nil {
		return nil, &ModelResponseError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedModelResponse, err)}
	}

	return &Translation{Filter: filter, Rule: rule, Raw: raw}, nil
}

// Describe asks the model for a short plain-language summary of a rule.
func (t *Translator) Describe(ctx context.Context, rule json.RawMessage) (string, error) {
	if len(rule) == 0 {
		return "", errors.New("describe: empty rule")
	}

	out, err := t.gen.Generate(ctx, llm.Request{
		System:      DescribeSystemPrompt(),
		Prompt:      string(rule),
		Temperature: describeTemperature,
		MaxTokens:   describeMaxTokens,
		Operation:   "describe",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return strings.TrimSpace(out), nil
}

// RejectedKey returns the offending key of a whitelist rejection, if err is one.
func RejectedKey(err error) (string, bool) {
	var v *ViolationError
	if errors.As(err, &v) {
		return v.Key, true
	}
	return "", false
}
