// Package services – CoachService
//
// Study helpers around a battle: translating a message, explaining a
// correction in depth, and summarising a learner's correction history.
// None of them touch rooms; every call degrades to a canned answer when the
// LLM is unavailable.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-fluency-battle/internal/llm"
)

const (
	// DefaultLanguage is used when the caller names no target language.
	DefaultLanguage = "Hindi"

	// FallbackTranslation is returned when translation fails.
	FallbackTranslation = "Translation unavailable."

	// MinProgressCorrections is the history needed before progress is
	// analysed at all.
	MinProgressCorrections = 3

	maxProgressCorrections = 30
	maxInsights            = 3
)

// Insight is one weak or strong point of a learner.
type Insight struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// Progress summarises a learner's recurring errors and strengths.
type Progress struct {
	WeakPoints   []Insight `json:"weakPoints"`
	StrongPoints []Insight `json:"strongPoints"`
}

// Explanation is a structured walkthrough of one correction.
type Explanation struct {
	Explanation string   `json:"explanation"`
	Examples    []string `json:"examples"`
	Tips        []string `json:"tips"`
}

// CoachService answers the study commands.
type CoachService struct {
	Gen             llm.Generator
	LLMTimeout      time.Duration
	MaxMessageRunes int
}

// NewCoachService returns a CoachService with default limits.
func NewCoachService(gen llm.Generator) *CoachService {
	if gen == nil {
		gen = llm.Disabled{}
	}
	return &CoachService{Gen: gen, LLMTimeout: DefaultLLMTimeout, MaxMessageRunes: DefaultMaxMessageRunes}
}

func (s *CoachService) generate(ctx context.Context, prompt string) (string, error) {
	if s.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LLMTimeout)
		defer cancel()
	}
	return s.Gen.Generate(ctx, prompt)
}

func (s *CoachService) checkText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return text, nil
}

func language(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	return DefaultLanguage
}

const translatePrompt = `Translate this English message to %s:

%q

Return ONLY the translation in %s script. No explanations.`

// Translate renders text in the target language. The bool reports whether
// the result came from the model.
func (s *CoachService) Translate(ctx context.Context, text, targetLanguage string) (string, bool, error) {
	tr := otel.Tracer("services/CoachService")
	ctx, span := tr.Start(ctx, "Translate")
	defer span.End()

	text, err := s.checkText(text)
	if err != nil {
		return "", false, err
	}
	lang := language(targetLanguage)
	span.SetAttributes(attribute.String("language", lang))

	out, err := s.generate(ctx, fmt.Sprintf(translatePrompt, lang, text, lang))
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		llmFallbacks.WithLabelValues("translate").Inc()
		zerolog.Ctx(ctx).Debug().Err(err).Msg("translation unavailable")
		return FallbackTranslation, false, nil
	}
	return out, true, nil
}

const explainPrompt = `You are a friendly English professor helping a student who speaks %[1]s.
Explain this grammar or spelling mistake in a structured, easy-to-understand way:

WRONG: %[2]q
CORRECT: %[3]q
BASIC ISSUE: %[4]s

Use these numbered sections:
1. WHY IT'S WRONG (2-3 sentences)
2. THE RULE (1-2 sentences)
3. %[5]s SPEAKERS NOTE: why %[1]s speakers make this mistake (1-2 sentences)
4. CORRECT USAGE

Give 3 practice examples and 2 memory tips.

Reply in this JSON format ONLY:
{"explanation": "1. WHY IT'S WRONG: ... 2. THE RULE: ... 3. %[5]s SPEAKERS NOTE: ... 4. CORRECT USAGE: ...", "examples": ["...", "...", "..."], "tips": ["...", "..."]}`

// FallbackExplanation is the canned explanation for c.
func FallbackExplanation(c Correction, motherTongue string) Explanation {
	lang := language(motherTongue)
	examples := []string{c.Corrected}
	if rest, ok := strings.CutPrefix(c.Corrected, "I "); ok {
		examples = append(examples, "We "+rest)
	}
	return Explanation{
		Explanation: strings.TrimSpace(fmt.Sprintf("This is a common mistake where %q should be %q. %s Many %s speakers make this error because of differences in grammar structure.",
			c.Original, c.Corrected, strings.TrimSpace(c.Reason), lang)),
		Examples: examples,
		Tips:     []string{"Practice saying this correctly 5 times", "Write 3 sentences using this pattern daily"},
	}
}

// Explain expands one correction into a structured lesson.
func (s *CoachService) Explain(ctx context.Context, c Correction, motherTongue string) (Explanation, error) {
	tr := otel.Tracer("services/CoachService")
	ctx, span := tr.Start(ctx, "Explain")
	defer span.End()

	c.Original = strings.TrimSpace(c.Original)
	c.Corrected = strings.TrimSpace(c.Corrected)
	if c.Original == "" || c.Corrected == "" {
		return Explanation{}, ErrEmptyMessage
	}
	lang := language(motherTongue)
	fallback := FallbackExplanation(c, lang)

	out, err := s.generate(ctx, fmt.Sprintf(explainPrompt, lang, c.Original, c.Corrected, c.Reason, strings.ToUpper(lang)))
	if err != nil {
		llmFallbacks.WithLabelValues("explain").Inc()
		zerolog.Ctx(ctx).Debug().Err(err).Msg("explanation unavailable")
		return fallback, nil
	}
	ex, ok := llm.DecodeOr(out, fallback)
	if !ok || strings.TrimSpace(ex.Explanation) == "" {
		llmFallbacks.WithLabelValues("explain").Inc()
		return fallback, nil
	}
	if len(ex.Examples) == 0 {
		ex.Examples = fallback.Examples
	}
	if len(ex.Tips) == 0 {
		ex.Tips = fallback.Tips
	}
	return ex, nil
}

// GettingStarted is returned while the history is too short to analyse.
func GettingStarted() Progress {
	return Progress{
		WeakPoints:   []Insight{},
		StrongPoints: []Insight{{Category: "Getting Started", Detail: "Complete more sessions to get personalized insights!"}},
	}
}

// FallbackProgress is returned when the analysis fails.
func FallbackProgress() Progress {
	return Progress{
		WeakPoints:   []Insight{{Category: "General", Detail: "Keep practicing to identify patterns!"}},
		StrongPoints: []Insight{{Category: "Effort", Detail: "Great job staying consistent with practice!"}},
	}
}

const progressPrompt = `You are an English learning advisor. Analyze these correction patterns from a student's practice sessions:

%s
Identify:
1. WEAK POINTS (up to 3): error patterns the student repeats
2. STRONG POINTS (up to 3): areas of improvement or strength

Return ONLY valid JSON:
{"weakPoints": [{"category": "Grammar", "detail": "Often forgets articles (a/an/the)"}], "strongPoints": [{"category": "Vocabulary", "detail": "Uses varied and appropriate words"}]}

Be encouraging but honest. If there aren't enough patterns, give fewer points.`

// AnalyzeProgress finds weak and strong points in a learner's corrections.
// Fewer than MinProgressCorrections usable corrections never reach the
// model. Only the first 30 are considered.
func (s *CoachService) AnalyzeProgress(ctx context.Context, corrections []Correction) Progress {
	tr := otel.Tracer("services/CoachService")
	ctx, span := tr.Start(ctx, "AnalyzeProgress", trace.WithAttributes(attribute.Int("corrections", len(corrections))))
	defer span.End()

	var b strings.Builder
	n := 0
	for _, c := range corrections {
		if n == maxProgressCorrections {
			break
		}
		if strings.TrimSpace(c.Original) == "" && strings.TrimSpace(c.Corrected) == "" {
			continue
		}
		reason := strings.TrimSpace(c.Reason)
		if reason == "" {
			reason = "unknown"
		}
		fmt.Fprintf(&b, "- Error: %q → Correct: %q (Reason: %s)\n", c.Original, c.Corrected, reason)
		n++
	}
	if n < MinProgressCorrections {
		return GettingStarted()
	}

	out, err := s.generate(ctx, fmt.Sprintf(progressPrompt, b.String()))
	if err != nil {
		llmFallbacks.WithLabelValues("progress").Inc()
		zerolog.Ctx(ctx).Debug().Err(err).Msg("progress analysis unavailable")
		return FallbackProgress()
	}
	p, ok := llm.DecodeOr(out, FallbackProgress())
	if !ok {
		llmFallbacks.WithLabelValues("progress").Inc()
		return p
	}
	p.WeakPoints = trimInsights(p.WeakPoints)
	p.StrongPoints = trimInsights(p.StrongPoints)
	return p
}

func trimInsights(in []Insight) []Insight {
	out := make([]Insight, 0, maxInsights)
	for _, i := range in {
		if len(out) == maxInsights {
			break
		}
		i.Category, i.Detail = strings.TrimSpace(i.Category), strings.TrimSpace(i.Detail)
		if i.Category == "" || i.Detail == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}
