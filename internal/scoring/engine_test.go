package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/llm"
)

func TestEngine_EmptyInput(t *testing.T) {
	called := false
	e := NewEngine(llm.GeneratorFunc(func(context.Context, string) (string, error) {
		called = true
		return "", nil
	}), time.Second)

	res, err := e.Score(context.Background(), []string{" ", ""})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if called {
		t.Fatalf("empty input must not reach the model")
	}
	b := res.Breakdown
	if b.Vocab+b.Grammar+b.Fluency+b.Sentence+b.BattleScore+b.WeightedTotal != 0 || b.Feedback != NoMessagesFeedback {
		t.Fatalf("breakdown = %+v", b)
	}
}

func TestEngine_UsesExtractedFeatures(t *testing.T) {
	var prompt string
	gen := llm.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "```json\n" + `{"grammarErrors":0,"spellingErrors":0,"validWords":16,"advancedWords":16,
			"coherence":100,"naturalFlow":100,"completeResponses":2,"complexResponses":2,"totalResponses":2,
			"feedback":"Excellent."}` + "\n```", nil
	})
	e := NewEngine(gen, time.Second)

	res, err := e.Score(context.Background(), []string{
		"I genuinely appreciate how thoughtfully you articulated that.",
		"Nevertheless, I'd argue the opposite perspective deserves consideration.",
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !res.Extracted {
		t.Fatalf("expected extracted features")
	}
	if !strings.Contains(prompt, "thoughtfully you articulated") {
		t.Fatalf("prompt must carry the messages, got %q", prompt)
	}
	b := res.Breakdown
	if b.Grammar != 100 || b.Vocab != 100 || b.Fluency != 100 || b.Sentence != 100 || b.Feedback != "Excellent." {
		t.Fatalf("breakdown = %+v", b)
	}
}

func TestEngine_FallsBackOnGeneratorError(t *testing.T) {
	var fallbacks int
	e := NewEngine(llm.Disabled{}, time.Second)
	e.OnFallback = func(err error) {
		if !errors.Is(err, llm.ErrDisabled) {
			t.Errorf("fallback err = %v", err)
		}
		fallbacks++
	}

	res, err := e.Score(context.Background(), []string{"hello my friend how are you today"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Extracted || fallbacks != 1 {
		t.Fatalf("extracted=%v fallbacks=%d", res.Extracted, fallbacks)
	}
	// Defaults: no errors, basic vocab, coherence and flow 70, complete sentences.
	b := res.Breakdown
	if b.Grammar != 100 || b.Vocab != 40 || b.Fluency != 70 || b.Sentence != 75 {
		t.Fatalf("breakdown = %+v", b)
	}
}

func TestEngine_FallsBackOnGarbage(t *testing.T) {
	e := NewEngine(llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return "I'm sorry, I can't help with that.", nil
	}), time.Second)
	res, err := e.Score(context.Background(), []string{"ok"})
	if err != nil || res.Extracted {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestEngine_TimeoutFallsBack(t *testing.T) {
	e := NewEngine(llm.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond)

	start := time.Now()
	res, err := e.Score(context.Background(), []string{"hello there"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Extracted || time.Since(start) > time.Second {
		t.Fatalf("timeout not applied: extracted=%v", res.Extracted)
	}
}

func TestEngine_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(llm.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		return "", ctx.Err()
	}), time.Second)
	if _, err := e.Score(ctx, []string{"hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestLLMExtractor_MissingScoresDefault(t *testing.T) {
	x := LLMExtractor{Gen: llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"grammarErrors": 2}`, nil
	})}
	f, err := x.Extract(context.Background(), []string{"a b"}, Stats{TotalWords: 2, TotalMessages: 1})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if f.Coherence != DefaultCoherence || f.NaturalFlow != DefaultCoherence || f.GrammarErrors != 2 {
		t.Fatalf("features = %+v", f)
	}

	x.Gen = llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"coherence": 0, "naturalFlow": 15}`, nil
	})
	f, _ = x.Extract(context.Background(), []string{"a b"}, Stats{TotalWords: 2, TotalMessages: 1})
	if f.Coherence != 0 || f.NaturalFlow != 15 {
		t.Fatalf("explicit zero must be kept: %+v", f)
	}
}
