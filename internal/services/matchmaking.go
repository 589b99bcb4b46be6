// Package services – MatchService
//
// This file implements MatchService, which pairs participants into rooms:
// the random queue, private code rooms and direct invitations. Every change
// to an existing room is one store.Transact call, so "the room is still
// waiting" is checked against the snapshot being committed, never against
// the one that was listed.
//
// Observability: public methods are OpenTelemetry-instrumented; outcomes and
// lost races are counted in Prometheus.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-fluency-battle/internal/catalog"
	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// Matchmaking defaults.
const (
	DefaultCandidateLimit = 10
	DefaultStaleAfter     = 3 * time.Minute
	DefaultMatchAttempts  = 3
	DefaultRetryBackoff   = 150 * time.Millisecond
	// DefaultSessionSeconds is used when a request names no duration.
	DefaultSessionSeconds = 420

	// recentBots is the length of a learner's bot history.
	recentBots = 3
	// maxCodeTries bounds private code regeneration.
	maxCodeTries = 10

	defaultAvatar    = "🦁"
	defaultHostName  = "Host"
	defaultGuestName = "Friend"
)

// Rand is the randomness the services draw from. *rand.Rand from
// math/rand/v2 satisfies it but is not safe for concurrent use; see
// LockedRand.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// LockedRand serializes access to a seeded source.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a deterministic, concurrency-safe source.
func NewLockedRand(seed1, seed2 uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed1, seed2))}
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// MatchResult describes how a matchmaking call ended.
type MatchResult struct {
	Room *domain.Room
	// Matched is true when the caller is in a matched room: one they just
	// joined, or one they were already paired in.
	Matched bool
	// AlreadyWaiting is true when the caller's existing waiting room was
	// returned instead of creating another.
	AlreadyWaiting bool
}

// MatchService resolves matchmaking requests. Catalog data is injected and
// never mutated.
type MatchService struct {
	Store   store.RoomStore
	Catalog *catalog.Catalog
	Rand    Rand
	Now     func() time.Time
	// Sleep waits between queue queries; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	CandidateLimit        int
	StaleAfter            time.Duration
	Attempts              int
	RetryBackoff          time.Duration
	DefaultSessionSeconds int
}

// NewMatchService constructs a MatchService with the default queue tuning.
func NewMatchService(st store.RoomStore, cat *catalog.Catalog) *MatchService {
	return &MatchService{
		Store:                 st,
		Catalog:               cat,
		Rand:                  globalRand{},
		Now:                   func() time.Time { return time.Now().UTC() },
		Sleep:                 sleepCtx,
		CandidateLimit:        DefaultCandidateLimit,
		StaleAfter:            DefaultStaleAfter,
		Attempts:              DefaultMatchAttempts,
		RetryBackoff:          DefaultRetryBackoff,
		DefaultSessionSeconds: DefaultSessionSeconds,
	}
}

func (s *MatchService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *MatchService) rand() Rand {
	if s.Rand == nil {
		return globalRand{}
	}
	return s.Rand
}

// duration maps a requested session length; negative means "not given".
func (s *MatchService) duration(requested int) int {
	if requested < 0 {
		return s.DefaultSessionSeconds
	}
	return requested
}

func withDefaults(p domain.Participant, name string) domain.Participant {
	p.ID = strings.TrimSpace(p.ID)
	if strings.TrimSpace(p.Name) == "" {
		p.Name = name
	}
	if strings.TrimSpace(p.Avatar) == "" {
		p.Avatar = defaultAvatar
	}
	return p
}

// FindOrCreateRandomMatch joins the oldest fresh waiting random room hosted
// by someone else, or hosts one. A caller already paired in a random room
// started within StaleAfter gets that room back instead of a second match.
// requestedSeconds < 0 uses the default session length; 0 means unlimited.
func (s *MatchService) FindOrCreateRandomMatch(ctx context.Context, p domain.Participant, requestedSeconds int) (*MatchResult, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "FindOrCreateRandomMatch", trace.WithAttributes(attribute.String("user.id", p.ID)))
	defer span.End()

	p = withDefaults(p, defaultGuestName)
	requested := s.duration(requestedSeconds)
	log := zerolog.Ctx(ctx)

	query := func(ctx context.Context) ([]domain.Room, error) {
		return s.Store.ListWaiting(ctx, store.WaitingQuery{
			Mode:        domain.ModeRandom,
			Since:       s.now().Add(-s.StaleAfter),
			ExcludeHost: p.ID,
			Limit:       s.CandidateLimit,
		})
	}
	join := func(ctx context.Context, c domain.Room) (*domain.Room, error) {
		return s.Store.Transact(ctx, c.ID, func(tx store.Tx) (bool, error) {
			r := tx.Room()
			if r.HostID == p.ID {
				return false, ErrRoomTaken
			}
			if err := matchRoom(r, p, s.now()); err != nil {
				return false, err
			}
			r.SessionDurationSeconds = negotiateDuration(r.HostRequestedSeconds, requested)
			r.RoleData = s.Catalog.PickRoles(s.rand())
			return true, nil
		})
	}
	lost := func(c domain.Room) {
		joinContention.Inc()
		log.Debug().Str("room_id", c.ID).Msg("lost race for waiting room")
	}

	active, err := s.Store.FindActive(ctx, p.ID, domain.ModeRandom, s.now().Add(-s.StaleAfter))
	switch {
	case err == nil:
		matchOutcomes.WithLabelValues("random", "existing").Inc()
		span.SetAttributes(attribute.String("room.id", active.ID), attribute.Bool("matched", true))
		return &MatchResult{Room: active, Matched: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find active room: %w", err)
	}

	room, err := joinFirstAvailable(ctx, retryPolicy{Attempts: s.Attempts, Backoff: s.RetryBackoff, Sleep: s.Sleep}, query, join, lost)
	if err != nil {
		return nil, fmt.Errorf("join random room: %w", err)
	}
	if room != nil {
		matchOutcomes.WithLabelValues("random", "joined").Inc()
		span.SetAttributes(attribute.String("room.id", room.ID), attribute.Bool("matched", true))
		return &MatchResult{Room: room, Matched: true}, nil
	}

	if existing, err := s.Store.FindHostedWaiting(ctx, p.ID, domain.ModeRandom); err == nil {
		matchOutcomes.WithLabelValues("random", "already_waiting").Inc()
		return &MatchResult{Room: existing, AlreadyWaiting: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	room = s.newWaitingRoom(p, domain.ModeRandom, fmt.Sprintf("RND%04d", 1000+s.rand().IntN(9000)), requested)
	if err := s.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	matchOutcomes.WithLabelValues("random", "hosted").Inc()
	span.SetAttributes(attribute.String("room.id", room.ID), attribute.Bool("matched", false))
	return &MatchResult{Room: room}, nil
}

func (s *MatchService) newWaitingRoom(host domain.Participant, mode domain.RoomMode, code string, requested int) *domain.Room {
	return &domain.Room{
		Code:                 code,
		Mode:                 mode,
		Status:               domain.StatusWaiting,
		HostID:               host.ID,
		HostName:             host.Name,
		HostAvatar:           host.Avatar,
		HostRequestedSeconds: requested,
		// Until someone joins, the host's own request is the best estimate.
		SessionDurationSeconds: requested,
		CreatedAt:              s.now(),
	}
}

// CreatePrivateRoom hosts a waiting room reachable by a 4-digit code that
// is unique among waiting private rooms.
func (s *MatchService) CreatePrivateRoom(ctx context.Context, host domain.Participant, requestedSeconds int) (*domain.Room, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "CreatePrivateRoom", trace.WithAttributes(attribute.String("user.id", host.ID)))
	defer span.End()

	host = withDefaults(host, defaultHostName)
	code, err := s.freePrivateCode(ctx)
	if err != nil {
		return nil, err
	}
	room := s.newWaitingRoom(host, domain.ModePrivate, code, s.duration(requestedSeconds))
	if err := s.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	matchOutcomes.WithLabelValues("private", "hosted").Inc()
	return room, nil
}

func (s *MatchService) freePrivateCode(ctx context.Context) (string, error) {
	var code string
	for i := 0; i < maxCodeTries; i++ {
		code = fmt.Sprintf("%04d", 1000+s.rand().IntN(9000))
		_, err := s.Store.FindRoomByCode(ctx, code, domain.ModePrivate)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free private room code after %d tries", maxCodeTries)
}

// JoinPrivateRoom joins the waiting private room with the given code. No
// scenario is assigned; private rooms are freeform.
func (s *MatchService) JoinPrivateRoom(ctx context.Context, code string, joiner domain.Participant, requestedSeconds int) (*domain.Room, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "JoinPrivateRoom", trace.WithAttributes(
		attribute.String("user.id", joiner.ID),
		attribute.String("room.code", code),
	))
	defer span.End()

	joiner = withDefaults(joiner, defaultGuestName)
	requested := s.duration(requestedSeconds)

	found, err := s.Store.FindRoomByCode(ctx, strings.TrimSpace(code), domain.ModePrivate)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if found.HostID == joiner.ID {
		return nil, ErrOwnRoom
	}

	room, err := s.Store.Transact(ctx, found.ID, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		if err := matchRoom(r, joiner, s.now()); err != nil {
			return false, err
		}
		r.SessionDurationSeconds = negotiateDuration(r.HostRequestedSeconds, requested)
		return true, nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrRoomNotFound
	case isContention(err):
		joinContention.Inc()
		return nil, ErrRoomTaken
	case err != nil:
		return nil, err
	}
	matchOutcomes.WithLabelValues("private", "joined").Inc()
	return room, nil
}

// CreateInvitationRoom creates a room already matched between host and
// guest.
func (s *MatchService) CreateInvitationRoom(ctx context.Context, host, guest domain.Participant) (*domain.Room, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "CreateInvitationRoom", trace.WithAttributes(attribute.String("user.id", host.ID)))
	defer span.End()

	host = withDefaults(host, "Player 1")
	guest = withDefaults(guest, "Player 2")
	if guest.ID == "" || guest.ID == host.ID {
		return nil, ErrSelfInvite
	}

	now := s.now()
	guestID := guest.ID
	room := &domain.Room{
		Code:           fmt.Sprintf("%04d", 1000+s.rand().IntN(9000)),
		Mode:           domain.ModeDirect,
		Status:         domain.StatusMatched,
		HostID:         host.ID,
		HostName:       host.Name,
		HostAvatar:     host.Avatar,
		OpponentID:     &guestID,
		OpponentName:   guest.Name,
		OpponentAvatar: guest.Avatar,
		RoleData: &domain.RoleData{
			Topic:       "Direct Match",
			Player1Role: "You", Player1Icon: host.Avatar, Player1Desc: "Chat freely",
			Player2Role: "Opponent", Player2Icon: guest.Avatar, Player2Desc: "Chat freely",
		},
		HostRequestedSeconds:   s.DefaultSessionSeconds,
		SessionDurationSeconds: s.DefaultSessionSeconds,
		CreatedAt:              now,
		StartedAt:              &now,
	}
	if err := s.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	matchOutcomes.WithLabelValues("direct", "created").Inc()
	return room, nil
}
