package scoring

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// Tier maps a minimum human sub-score to a handicap fraction.
type Tier struct {
	Min      int
	Fraction float64
}

// DefaultTiers is "82:0.20,70:0.25,50:0.30".
var DefaultTiers = []Tier{{82, 0.20}, {70, 0.25}, {50, 0.30}}

// Defaults for the remaining knobs.
const (
	DefaultHandicapFloor  = 0.45
	DefaultHandicapJitter = 0.10
	minBotFactor          = 0.1
)

// Handicap scales a simulated opponent's sub-scores relative to the human's.
type Handicap struct {
	// Tiers are checked from the highest Min down; the first match wins.
	Tiers []Tier
	// Floor is the fraction used below the lowest tier.
	Floor float64
	// MaxJitter bounds the shared random jitter, drawn from [0, MaxJitter).
	MaxJitter float64
}

// DefaultHandicap returns the stock tiers.
func DefaultHandicap() Handicap {
	return Handicap{Tiers: slices.Clone(DefaultTiers), Floor: DefaultHandicapFloor, MaxJitter: DefaultHandicapJitter}
}

// ParseTiers parses "min:fraction" pairs separated by commas. The result is
// sorted by Min, highest first.
func ParseTiers(s string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minStr, fracStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("handicap tier %q: want min:fraction", part)
		}
		m, err := strconv.Atoi(strings.TrimSpace(minStr))
		if err != nil || m < 0 || m > 100 {
			return nil, fmt.Errorf("handicap tier %q: min must be 0-100", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(fracStr), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("handicap tier %q: fraction must be 0-1", part)
		}
		tiers = append(tiers, Tier{Min: m, Fraction: f})
	}
	if len(tiers) == 0 {
		return nil, errors.New("handicap tiers: none given")
	}
	slices.SortFunc(tiers, func(a, b Tier) int { return b.Min - a.Min })
	return tiers, nil
}

// FormatTiers is the inverse of ParseTiers.
func FormatTiers(tiers []Tier) string {
	parts := make([]string, len(tiers))
	for i, t := range tiers {
		parts[i] = strconv.Itoa(t.Min) + ":" + strconv.FormatFloat(t.Fraction, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Fraction returns the base handicap for a human sub-score.
func (h Handicap) Fraction(human int) float64 {
	for _, t := range h.Tiers {
		if human >= t.Min {
			return t.Fraction
		}
	}
	return h.Floor
}

// Float64er is the subset of *rand.Rand (math/rand/v2) used for jitter.
type Float64er interface {
	Float64() float64
}

// Jitter draws the per-analysis jitter shared by all four categories.
func (h Handicap) Jitter(r Float64er) float64 {
	if h.MaxJitter <= 0 || r == nil {
		return 0
	}
	return r.Float64() * h.MaxJitter
}

func (h Handicap) adjust(bot, human int, jitter float64) int {
	factor := math.Max(minBotFactor, 1-(h.Fraction(human)+jitter))
	return int(math.Round(float64(bot) * factor))
}

// Apply returns the bot's adjusted breakdown. Each sub-score is scaled by
// max(0.1, 1 − (tier fraction + jitter)) and rounded; the totals are then
// recomputed with the bot's own length multiplier. The human side is never
// touched.
func (h Handicap) Apply(human, bot domain.ScoreBreakdown, botLengthMultiplier, jitter float64) domain.ScoreBreakdown {
	out := bot
	out.Vocab = h.adjust(bot.Vocab, human.Vocab, jitter)
	out.Grammar = h.adjust(bot.Grammar, human.Grammar, jitter)
	out.Fluency = h.adjust(bot.Fluency, human.Fluency, jitter)
	out.Sentence = h.adjust(bot.Sentence, human.Sentence, jitter)
	Totals(&out, botLengthMultiplier)
	return out
}
