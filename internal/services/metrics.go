package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// matchOutcomes counts matchmaking results by operation and outcome
	// (joined, hosted, already_waiting, bot, existing).
	matchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_match_outcomes_total",
			Help: "Matchmaking outcomes by operation.",
		},
		[]string{"op", "outcome"},
	)

	// joinContention counts join attempts lost to a concurrent writer.
	joinContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "battle_join_contention_total",
			Help: "Room joins lost to a concurrent commit.",
		},
	)

	// analysisSource counts where an analyze call got its result from
	// (memo, stored, computed, fallback, lost_race).
	analysisSource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_analysis_total",
			Help: "Analyze calls by result source.",
		},
		[]string{"source"},
	)

	// llmFallbacks counts LLM calls that fell back to a default.
	llmFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_llm_fallbacks_total",
			Help: "LLM calls replaced by a default value.",
		},
		[]string{"call"},
	)
)

func init() {
	prometheus.MustRegister(matchOutcomes, joinContention, analysisSource, llmFallbacks)
}

// ScoringFallback is wired to scoring.Engine.OnFallback.
func ScoringFallback(error) {
	llmFallbacks.WithLabelValues("features").Inc()
}
