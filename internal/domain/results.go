package domain

import "time"

// Winner names the side that won a battle.
type Winner string

const (
	WinnerPlayer1 Winner = "player1"
	WinnerPlayer2 Winner = "player2"
	WinnerDraw    Winner = "draw"
)

// ScoreBreakdown is one participant's graded result.
// Sub-scores are in [0,100]; BattleScore is their sum in [0,400].
type ScoreBreakdown struct {
	Vocab         int    `json:"vocab"         bson:"vocab"`
	Grammar       int    `json:"grammar"       bson:"grammar"`
	Fluency       int    `json:"fluency"       bson:"fluency"`
	Sentence      int    `json:"sentence"      bson:"sentence"`
	WeightedTotal int    `json:"weightedTotal" bson:"weightedTotal"`
	BattleScore   int    `json:"total"         bson:"total"`
	Feedback      string `json:"feedback"      bson:"feedback"`
}

// AnalysisResult is the immutable outcome of analyzing a room.
// Player1 is always the host, Player2 the opponent.
type AnalysisResult struct {
	Player1    ScoreBreakdown `json:"player1"              bson:"player1"`
	Player2    ScoreBreakdown `json:"player2"              bson:"player2"`
	Winner     Winner         `json:"winner"               bson:"winner"`
	IsBotMatch bool           `json:"isBotMatch"           bson:"isBotMatch"`
	Fallback   bool           `json:"fallback,omitempty"   bson:"fallback,omitempty"`
	AnalyzedBy string         `json:"analyzedBy,omitempty" bson:"analyzedBy,omitempty"`
	AnalyzedAt time.Time      `json:"analyzedAt"           bson:"analyzedAt"`
}

// DecideWinner compares battle scores; equal scores are a draw.
func DecideWinner(p1, p2 ScoreBreakdown) Winner {
	switch {
	case p1.BattleScore > p2.BattleScore:
		return WinnerPlayer1
	case p2.BattleScore > p1.BattleScore:
		return WinnerPlayer2
	default:
		return WinnerDraw
	}
}
