package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/llm"
)

// Extractor produces features for one participant's messages.
type Extractor interface {
	Extract(ctx context.Context, messages []string, st Stats) (Features, error)
}

// ErrUnparsable is returned by LLMExtractor when the model output holds no
// usable feature object.
var ErrUnparsable = errors.New("scoring: unparsable feature response")

// LLMExtractor asks a language model for the feature schema.
type LLMExtractor struct {
	Gen     llm.Generator
	Timeout time.Duration
}

const featurePrompt = `You are a strict English examiner. Analyze ONLY the learner messages below.
Count every issue; do not be lenient.

Messages (JSON array, one entry per message):
%s

Return JSON only, no commentary, with exactly these fields:
{
  "grammarErrors": 0, "spellingErrors": 0, "punctuationErrors": 0,
  "capitalizationErrors": 0, "articleErrors": 0,
  "gibberishWords": 0, "validWords": %d,
  "basicWords": 0, "intermediateWords": 0, "advancedWords": 0,
  "awkwardPhrases": 0, "incompleteThoughts": 0,
  "coherence": 0, "naturalFlow": 0,
  "completeResponses": 0, "complexResponses": 0, "totalResponses": %d,
  "feedback": "one or two short sentences of encouraging, specific feedback"
}
coherence and naturalFlow are 0-100. basic+intermediate+advanced must equal validWords.`

// Extract implements Extractor.
func (x LLMExtractor) Extract(ctx context.Context, messages []string, st Stats) (Features, error) {
	if x.Gen == nil {
		return Features{}, llm.ErrDisabled
	}
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		return Features{}, err
	}
	out, err := x.Gen.Generate(ctx, fmt.Sprintf(featurePrompt, encoded, st.TotalWords, st.TotalMessages))
	if err != nil {
		return Features{}, err
	}
	w, ok := llm.DecodeOr(out, wireFeatures{})
	if !ok {
		return Features{}, ErrUnparsable
	}
	return w.features(), nil
}

// Result is a graded side together with its inputs.
type Result struct {
	Breakdown domain.ScoreBreakdown
	Stats     Stats
	Features  Features
	// Extracted is false when DefaultFeatures were used.
	Extracted bool
}

// Engine grades participants.
type Engine struct {
	Extractor Extractor
	// OnFallback, when set, is called each time extraction fails.
	OnFallback func(err error)
}

// NewEngine returns an engine backed by gen.
func NewEngine(gen llm.Generator, timeout time.Duration) *Engine {
	return &Engine{Extractor: LLMExtractor{Gen: gen, Timeout: timeout}}
}

// Score grades one participant. Extraction failures never fail scoring; the
// only error returned is the caller's context error.
func (e *Engine) Score(ctx context.Context, messages []string) (Result, error) {
	tr := otel.Tracer("scoring/Engine")
	ctx, span := tr.Start(ctx, "Score", trace.WithAttributes(attribute.Int("messages", len(messages))))
	defer span.End()

	st := ComputeStats(messages)
	if st.TotalMessages == 0 {
		return Result{Breakdown: Empty(), Stats: st}, nil
	}

	clean := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			clean = append(clean, m)
		}
	}

	f, err := e.extract(ctx, clean, st)
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, cerr
	}
	res := Result{Stats: st, Extracted: err == nil}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("messages", st.TotalMessages).Msg("feature extraction failed; using defaults")
		if e.OnFallback != nil {
			e.OnFallback(err)
		}
		f = DefaultFeatures(st)
	}
	res.Features = f.Sanitize(st)
	res.Breakdown = Grade(res.Features, st)
	span.SetAttributes(attribute.Bool("extracted", res.Extracted), attribute.Int("battle_score", res.Breakdown.BattleScore))
	return res, nil
}

func (e *Engine) extract(ctx context.Context, messages []string, st Stats) (Features, error) {
	if e.Extractor == nil {
		return Features{}, llm.ErrDisabled
	}
	return e.Extractor.Extract(ctx, messages, st)
}
