// Package services – AnalysisService
//
// This file implements AnalysisService, which scores a finished (or
// finishing) room exactly once. The first successful analysis stores its
// result on the room and ends it in the same transaction; every later call,
// from either participant, gets the stored result back unchanged.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-fluency-battle/internal/cache"
	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/scoring"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// FallbackFeedback marks a result stored after scoring failed.
const FallbackFeedback = "Analysis failed; scores unavailable."

// Scorer grades one participant's messages.
type Scorer interface {
	Score(ctx context.Context, messages []string) (scoring.Result, error)
}

// AnalysisService computes and memoizes battle results.
type AnalysisService struct {
	Store    store.RoomStore
	Scorer   Scorer
	Results  cache.Results
	Handicap scoring.Handicap
	Rand     Rand
	Now      func() time.Time
}

// NewAnalysisService constructs an AnalysisService with the default
// handicap and no memo.
func NewAnalysisService(st store.RoomStore, scorer Scorer) *AnalysisService {
	return &AnalysisService{
		Store:    st,
		Scorer:   scorer,
		Results:  cache.Noop{},
		Handicap: scoring.DefaultHandicap(),
		Rand:     globalRand{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AnalysisService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *AnalysisService) memo() cache.Results {
	if s.Results == nil {
		return cache.Noop{}
	}
	return s.Results
}

// Analyze returns the room's result, computing and storing it on first use.
func (s *AnalysisService) Analyze(ctx context.Context, roomID, requesterID string) (*domain.AnalysisResult, error) {
	tr := otel.Tracer("services/AnalysisService")
	ctx, span := tr.Start(ctx, "Analyze", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("user.id", requesterID),
	))
	defer span.End()
	log := zerolog.Ctx(ctx)

	if hit, err := s.memo().Get(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("results memo read failed")
	} else if hit != nil {
		analysisSource.WithLabelValues("memo").Inc()
		return hit, nil
	}

	room, err := s.Store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if room.Results != nil {
		analysisSource.WithLabelValues("stored").Inc()
		s.warm(ctx, roomID, room.Results)
		return room.Results, nil
	}
	if room.Status == domain.StatusWaiting {
		return nil, ErrRoomNotMatched
	}
	if !room.IsParticipant(requesterID) {
		return nil, ErrNotParticipant
	}

	msgs, err := s.Store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var p1, p2 []string
	for _, m := range msgs {
		switch {
		case m.SenderID == room.HostID:
			p1 = append(p1, m.Text)
		case room.OpponentID != nil && m.SenderID == *room.OpponentID:
			p2 = append(p2, m.Text)
		}
	}

	source := "computed"
	res, err := s.compute(ctx, room.IsBotMatch, p1, p2)
	if err != nil {
		source = "fallback"
		log.Error().Err(err).Str("room_id", roomID).Msg("scoring failed; storing fallback result")
		res = fallbackResult(room.IsBotMatch)
		// The request may be gone, but the room must not stay unscored.
		ctx = context.WithoutCancel(ctx)
	}
	now := s.now().Truncate(time.Millisecond)
	res.AnalyzedBy = requesterID
	res.AnalyzedAt = now

	lostRace := false
	stored, err := s.Store.Transact(ctx, roomID, func(tx store.Tx) (bool, error) {
		lostRace = false
		r := tx.Room()
		if r.Results != nil {
			lostRace = true
			return false, nil
		}
		if r.Status == domain.StatusMatched {
			if err := transition(r, domain.StatusEnded, now); err != nil {
				return false, err
			}
		}
		out := *res
		r.Results = &out
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if lostRace {
		source = "lost_race"
	}
	analysisSource.WithLabelValues(source).Inc()
	span.SetAttributes(attribute.String("analysis.source", source), attribute.String("winner", string(stored.Results.Winner)))

	s.warm(ctx, roomID, stored.Results)
	return stored.Results, nil
}

func (s *AnalysisService) warm(ctx context.Context, roomID string, res *domain.AnalysisResult) {
	if err := s.memo().Put(ctx, roomID, res); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Msg("results memo write failed")
	}
}

// compute scores both sides concurrently and applies the handicap to the
// bot side of a bot match. No messages at all is a draw with zero scores.
func (s *AnalysisService) compute(ctx context.Context, isBot bool, p1, p2 []string) (*domain.AnalysisResult, error) {
	if len(p1) == 0 && len(p2) == 0 {
		return &domain.AnalysisResult{
			Player1:    scoring.Empty(),
			Player2:    scoring.Empty(),
			Winner:     domain.WinnerDraw,
			IsBotMatch: isBot,
		}, nil
	}

	var r1, r2 scoring.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r1, err = s.Scorer.Score(gctx, p1)
		return err
	})
	g.Go(func() error {
		var err error
		r2, err = s.Scorer.Score(gctx, p2)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	player2 := r2.Breakdown
	if isBot {
		rnd := s.Rand
		if rnd == nil {
			rnd = globalRand{}
		}
		player2 = s.Handicap.Apply(r1.Breakdown, r2.Breakdown, r2.Stats.LengthMultiplier, s.Handicap.Jitter(rnd))
	}
	return &domain.AnalysisResult{
		Player1:    r1.Breakdown,
		Player2:    player2,
		Winner:     domain.DecideWinner(r1.Breakdown, player2),
		IsBotMatch: isBot,
	}, nil
}

func fallbackResult(isBot bool) *domain.AnalysisResult {
	side := domain.ScoreBreakdown{Feedback: FallbackFeedback}
	return &domain.AnalysisResult{
		Player1:    side,
		Player2:    side,
		Winner:     domain.WinnerDraw,
		IsBotMatch: isBot,
		Fallback:   true,
	}
}

// Compare scores two transcripts outside any room, exactly as Analyze would
// for a room with these messages. Nothing is stored.
func (s *AnalysisService) Compare(ctx context.Context, isBot bool, host, opponent []string) (*domain.AnalysisResult, error) {
	return s.compute(ctx, isBot, host, opponent)
}
