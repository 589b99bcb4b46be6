package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// BotMatch is the outcome of TriggerBotMatch.
type BotMatch struct {
	Room *domain.Room
	// Assigned is true when this call put the bot in; false when the room
	// was already matched and is returned unchanged.
	Assigned bool
}

func assignBot(r *domain.Room, bot domain.Persona) {
	r.IsBotMatch = true
	persona := bot
	r.BotPersona = &persona
}

// TriggerBotMatch gives the requester's waiting room a simulated opponent.
// A room that is already matched (a human got in first) is returned as is,
// so a bot never replaces a human. The persona avoids the requester's last
// three bots and the history is updated in the same transaction.
func (s *MatchService) TriggerBotMatch(ctx context.Context, roomID, requesterID string) (*BotMatch, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "TriggerBotMatch", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("user.id", requesterID),
	))
	defer span.End()

	assigned := false
	room, err := s.Store.Transact(ctx, roomID, func(tx store.Tx) (bool, error) {
		assigned = false
		r := tx.Room()
		if r.Status == domain.StatusMatched && r.IsParticipant(requesterID) {
			return false, nil
		}
		if r.HostID != requesterID {
			return false, ErrNotHost
		}
		if r.Status == domain.StatusEnded {
			return false, ErrRoomEnded
		}

		prof, err := tx.Profile(requesterID)
		if err != nil {
			return false, err
		}
		bot := s.Catalog.PickPersona(s.rand(), prof.LastBots)
		if err := matchRoom(r, domain.Participant{ID: bot.ID, Name: bot.Name, Avatar: bot.Avatar}, s.now()); err != nil {
			return false, err
		}
		assignBot(r, bot)
		r.SessionDurationSeconds = r.HostRequestedSeconds
		r.RoleData = &domain.RoleData{
			Topic:       "Random Chat",
			Player1Role: "Themselves", Player1Icon: "👤", Player1Desc: "Just be yourself",
			Player2Role: bot.Name, Player2Icon: bot.Avatar, Player2Desc: bot.Style,
		}
		prof.LastBots = appendRecent(prof.LastBots, bot.ID, recentBots)
		tx.PutProfile(prof)
		assigned = true
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	outcome := "existing"
	if assigned {
		outcome = "bot"
	}
	matchOutcomes.WithLabelValues("trigger_bot", outcome).Inc()
	span.SetAttributes(attribute.Bool("bot.assigned", assigned))
	return &BotMatch{Room: room, Assigned: assigned}, nil
}

// CreateBotRoom creates a room already matched with the chosen persona. An
// unknown persona id picks one at random. The learner's bot history is
// updated afterwards; a failure there is logged, not returned.
func (s *MatchService) CreateBotRoom(ctx context.Context, p domain.Participant, personaID string) (*domain.Room, error) {
	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "CreateBotRoom", trace.WithAttributes(
		attribute.String("user.id", p.ID),
		attribute.String("persona.id", personaID),
	))
	defer span.End()

	p = withDefaults(p, "Human")
	bot, ok := s.Catalog.Persona(personaID)
	if !ok {
		bot = s.Catalog.PickPersona(s.rand(), nil)
	}

	now := s.now()
	botID := bot.ID
	room := &domain.Room{
		Code:           fmt.Sprintf("BOT%04d", 1000+s.rand().IntN(9000)),
		Mode:           domain.ModeBot,
		Status:         domain.StatusMatched,
		HostID:         p.ID,
		HostName:       p.Name,
		HostAvatar:     p.Avatar,
		OpponentID:     &botID,
		OpponentName:   bot.Name,
		OpponentAvatar: bot.Avatar,
		RoleData: &domain.RoleData{
			Topic:       s.Catalog.PickCasualTopic(s.rand()),
			Player1Role: "You", Player1Icon: p.Avatar, Player1Desc: "Just be yourself!",
			Player2Role: bot.Name, Player2Icon: bot.Avatar, Player2Desc: bot.Style,
		},
		HostRequestedSeconds:   s.DefaultSessionSeconds,
		SessionDurationSeconds: s.DefaultSessionSeconds,
		CreatedAt:              now,
		StartedAt:              &now,
	}
	assignBot(room, bot)
	if err := s.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}

	updated, err := s.Store.Transact(ctx, room.ID, func(tx store.Tx) (bool, error) {
		prof, err := tx.Profile(p.ID)
		if err != nil {
			return false, err
		}
		prof.LastBots = appendRecent(prof.LastBots, bot.ID, recentBots)
		tx.PutProfile(prof)
		return true, nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", room.ID).Msg("bot history not updated")
	} else {
		room = updated
	}
	matchOutcomes.WithLabelValues("bot_room", "created").Inc()
	return room, nil
}
