package scoring

import (
	"math"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// NoMessagesFeedback is the feedback attached to an empty side.
const NoMessagesFeedback = "No messages sent."

// Component weights of the weighted total.
const (
	weightGrammar  = 0.40
	weightVocab    = 0.25
	weightFluency  = 0.20
	weightSentence = 0.15
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func roundScore(v float64) int {
	return int(math.Round(clamp(v, 0, 100)))
}

// Grammar penalizes per-word error rates (punctuation and capitalization per
// response) and gibberish, gates on the valid-word fraction, and applies a
// rescue bonus for coherent speakers with weak grammar.
func Grammar(f Features, st Stats) float64 {
	words := max(st.TotalWords, 1)
	responses := max(f.TotalResponses, 1)

	penalty := 150*ratio(f.GrammarErrors, words) +
		100*ratio(f.SpellingErrors, words) +
		15*ratio(f.PunctuationErrors, responses) +
		8*ratio(f.CapitalizationErrors, responses) +
		80*ratio(f.ArticleErrors, words) +
		50*ratio(f.GibberishWords, words)
	score := clamp(100-penalty-20*float64(f.GibberishWords), 0, 100)

	valid := 1.0
	if st.TotalWords > 0 {
		valid = clamp(ratio(f.ValidWords, st.TotalWords), 0, 1)
	}
	switch {
	case valid < 0.3:
		score = math.Min(score, 15)
	case valid <= 0.7:
		score *= valid
	default:
		score = math.Max(score, 20)
	}

	if f.Coherence > 50 && score < 50 {
		var bonus float64
		switch {
		case score < 20:
			bonus = 20
		case score < 30:
			bonus = 12
		case score < 40:
			bonus = 6
		default:
			bonus = 3
		}
		score = math.Min(score+bonus, 50)
	}
	return clamp(score, 0, 100)
}

// Vocabulary blends the basic/intermediate/advanced tiers (40/70/100) over
// valid words, minus gibberish penalties.
func Vocabulary(f Features, st Stats) float64 {
	var tiers float64
	if f.ValidWords > 0 {
		tiers = (40*float64(f.BasicWords) + 70*float64(f.IntermediateWords) + 100*float64(f.AdvancedWords)) /
			float64(f.ValidWords)
	}
	gibRate := ratio(f.GibberishWords, max(st.TotalWords, 1))
	return clamp(tiers-50*gibRate-15*float64(f.GibberishWords), 0, 100)
}

// Fluency blends coherence and natural flow, less awkwardness, incomplete
// thoughts, and a depth penalty for very short answers. Mostly-gibberish
// input collapses to max(10, 30 − 10·gibberish).
func Fluency(f Features, st Stats) float64 {
	if ratio(f.GibberishWords, max(st.TotalWords, 1)) > 0.3 {
		return math.Max(10, 30-10*float64(f.GibberishWords))
	}
	responses := max(f.TotalResponses, 1)
	score := 0.40*f.Coherence + 0.60*f.NaturalFlow -
		40*ratio(f.AwkwardPhrases, responses) -
		30*ratio(f.IncompleteThoughts, responses)

	perResponse := ratio(st.TotalWords, responses)
	switch {
	case perResponse < 3:
		score -= 30
	case perResponse < 5:
		score -= 15
	}
	return clamp(score, 25, 100)
}

// Sentence rewards complete and complex responses over a fixed base of 15.
func Sentence(f Features) float64 {
	responses := max(f.TotalResponses, 1)
	cr := clamp(ratio(f.CompleteResponses, responses), 0, 1)
	xr := clamp(ratio(f.ComplexResponses, responses), 0, 1)
	return clamp(60*cr+25*xr+15, 20, 100)
}

// Totals derives the weighted total (0–100, scaled by the length multiplier)
// and the battle score (0–400) from four rounded sub-scores.
func Totals(b *domain.ScoreBreakdown, lengthMultiplier float64) {
	weighted := (weightGrammar*float64(b.Grammar) +
		weightVocab*float64(b.Vocab) +
		weightFluency*float64(b.Fluency) +
		weightSentence*float64(b.Sentence)) * lengthMultiplier
	b.WeightedTotal = roundScore(weighted)
	b.BattleScore = b.Vocab + b.Grammar + b.Fluency + b.Sentence
}

// Grade computes a full breakdown from features and stats. An empty side
// scores zero everywhere.
func Grade(f Features, st Stats) domain.ScoreBreakdown {
	if st.TotalWords == 0 && st.TotalMessages == 0 {
		return Empty()
	}
	b := domain.ScoreBreakdown{
		Grammar:  roundScore(Grammar(f, st)),
		Vocab:    roundScore(Vocabulary(f, st)),
		Fluency:  roundScore(Fluency(f, st)),
		Sentence: roundScore(Sentence(f)),
		Feedback: f.Feedback,
	}
	Totals(&b, st.LengthMultiplier)
	return b
}

// Empty is the breakdown of a side that sent nothing.
func Empty() domain.ScoreBreakdown {
	return domain.ScoreBreakdown{Feedback: NoMessagesFeedback}
}
