package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tbourn/go-fluency-battle/internal/llm"
)

func staticGen(out string, err error, calls *int) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, _ string) (string, error) {
		if calls != nil {
			*calls++
		}
		return out, err
	})
}

func corrections(n int) []Correction {
	out := make([]Correction, n)
	for i := range out {
		out[i] = Correction{Original: fmt.Sprintf("I has %d", i), Corrected: fmt.Sprintf("I have %d", i), Reason: "agreement"}
	}
	return out
}

func TestTranslate(t *testing.T) {
	var prompt string
	c := NewCoachService(llm.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "  नमस्ते  ", nil
	}))

	got, fromModel, err := c.Translate(context.Background(), " hello ", "")
	if err != nil || !fromModel || got != "नमस्ते" {
		t.Fatalf("got %q %v %v", got, fromModel, err)
	}
	if !strings.Contains(prompt, DefaultLanguage) {
		t.Fatalf("prompt should name default language: %q", prompt)
	}

	if _, _, err := c.Translate(context.Background(), "   ", "French"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
	c.MaxMessageRunes = 3
	if _, _, err := c.Translate(context.Background(), "hello", "French"); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("want ErrMessageTooLong, got %v", err)
	}
}

func TestTranslate_Fallback(t *testing.T) {
	for name, gen := range map[string]llm.Generator{
		"error":    staticGen("", errors.New("down"), nil),
		"empty":    staticGen("   ", nil, nil),
		"disabled": nil,
	} {
		t.Run(name, func(t *testing.T) {
			got, fromModel, err := NewCoachService(gen).Translate(context.Background(), "hello", "Tamil")
			if err != nil || fromModel || got != FallbackTranslation {
				t.Fatalf("got %q %v %v", got, fromModel, err)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	corr := Correction{Original: "I goes home", Corrected: "I go home", Reason: "Subject-verb agreement."}

	t.Run("model", func(t *testing.T) {
		c := NewCoachService(staticGen("```json\n{\"explanation\":\"1. WHY IT'S WRONG: ...\",\"examples\":[\"a\",\"b\",\"c\"]}\n```", nil, nil))
		got, err := c.Explain(context.Background(), corr, "Telugu")
		if err != nil {
			t.Fatal(err)
		}
		if got.Explanation != "1. WHY IT'S WRONG: ..." || len(got.Examples) != 3 {
			t.Fatalf("unexpected %+v", got)
		}
		// Missing tips are filled from the canned answer.
		if len(got.Tips) != 2 {
			t.Fatalf("tips = %v", got.Tips)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		for _, out := range []string{"not json", `{"explanation":"  "}`} {
			got, err := NewCoachService(staticGen(out, nil, nil)).Explain(context.Background(), corr, "Telugu")
			if err != nil {
				t.Fatal(err)
			}
			want := FallbackExplanation(corr, "Telugu")
			if got.Explanation != want.Explanation {
				t.Fatalf("got %q", got.Explanation)
			}
			if !strings.Contains(got.Explanation, "Telugu speakers") || !strings.Contains(got.Explanation, `"I go home"`) {
				t.Fatalf("fallback should cite inputs: %q", got.Explanation)
			}
			if len(got.Examples) != 2 || got.Examples[1] != "We go home" {
				t.Fatalf("examples = %v", got.Examples)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		calls := 0
		_, err := NewCoachService(staticGen("{}", nil, &calls)).Explain(context.Background(), Correction{Original: "x"}, "")
		if !errors.Is(err, ErrEmptyMessage) || calls != 0 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})
}

func TestAnalyzeProgress_GettingStarted(t *testing.T) {
	calls := 0
	c := NewCoachService(staticGen(`{"weakPoints":[{"category":"x","detail":"y"}]}`, nil, &calls))

	// Blank corrections do not count toward the minimum.
	in := append(corrections(MinProgressCorrections-1), Correction{})
	got := c.AnalyzeProgress(context.Background(), in)

	if calls != 0 {
		t.Fatalf("model called %d times", calls)
	}
	if len(got.WeakPoints) != 0 || len(got.StrongPoints) != 1 || got.StrongPoints[0].Category != "Getting Started" {
		t.Fatalf("unexpected %+v", got)
	}
	if got.WeakPoints == nil {
		t.Fatal("weak points should encode as []")
	}
}

func TestAnalyzeProgress(t *testing.T) {
	var prompt string
	c := NewCoachService(llm.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `{"weakPoints":[{"category":"Grammar","detail":"agreement"},{"category":"","detail":"dropped"},` +
			`{"category":"A","detail":"1"},{"category":"B","detail":"2"},{"category":"C","detail":"3"}],` +
			`"strongPoints":[{"category":"Vocabulary","detail":"varied"}]}`, nil
	}))

	got := c.AnalyzeProgress(context.Background(), corrections(40))

	if strings.Count(prompt, "- Error:") != 30 {
		t.Fatalf("prompt should carry 30 corrections, got %d", strings.Count(prompt, "- Error:"))
	}
	if strings.Contains(prompt, "I has 30") {
		t.Fatal("corrections past the cap leaked into the prompt")
	}
	if len(got.WeakPoints) != 3 || got.WeakPoints[0].Category != "Grammar" || got.WeakPoints[1].Category != "A" {
		t.Fatalf("weak = %+v", got.WeakPoints)
	}
	if len(got.StrongPoints) != 1 {
		t.Fatalf("strong = %+v", got.StrongPoints)
	}
}

func TestAnalyzeProgress_Fallback(t *testing.T) {
	want := FallbackProgress()
	for name, gen := range map[string]llm.Generator{
		"error":   staticGen("", errors.New("quota"), nil),
		"garbage": staticGen("no idea", nil, nil),
	} {
		t.Run(name, func(t *testing.T) {
			got := NewCoachService(gen).AnalyzeProgress(context.Background(), corrections(5))
			if len(got.WeakPoints) != 1 || got.WeakPoints[0] != want.WeakPoints[0] {
				t.Fatalf("weak = %+v", got.WeakPoints)
			}
			if len(got.StrongPoints) != 1 || got.StrongPoints[0].Category != "Effort" {
				t.Fatalf("strong = %+v", got.StrongPoints)
			}
		})
	}
}
