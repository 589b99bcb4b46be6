// Package services – SessionService
//
// This file implements the live part of a battle: sending messages (with the
// per-message accuracy check and, in bot matches, the persona's reply),
// ending the session and reading the room back for polling clients.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/llm"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

const (
	// DefaultMaxMessageRunes caps a single message.
	DefaultMaxMessageRunes = 2000
	// DefaultLLMTimeout bounds each LLM call made while sending.
	DefaultLLMTimeout = 20 * time.Second

	// FallbackReply is sent by the persona when generation fails.
	FallbackReply = "Yeah, I agree."

	replyHistory = 10
)

// Error levels of an accuracy check.
const (
	LevelPerfect    = "perfect"
	LevelSuggestion = "suggestion"
	LevelMistake    = "mistake"
)

// Correction is the suggested fix for one message.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// Accuracy is the per-message check returned with a send. It is not stored.
type Accuracy struct {
	Accuracy   int         `json:"accuracy"`
	ErrorLevel string      `json:"errorLevel"`
	Correction *Correction `json:"correction"`
}

// PerfectAccuracy is the conservative default when the check is unavailable.
func PerfectAccuracy() Accuracy {
	return Accuracy{Accuracy: 100, ErrorLevel: LevelPerfect}
}

// normalize clamps the score and makes the level and correction agree.
func (a Accuracy) normalize() Accuracy {
	a.Accuracy = max(0, min(100, a.Accuracy))
	switch a.ErrorLevel {
	case LevelPerfect, LevelSuggestion, LevelMistake:
	default:
		if a.Accuracy >= 100 {
			a.ErrorLevel = LevelPerfect
		} else {
			a.ErrorLevel = LevelSuggestion
		}
	}
	if a.ErrorLevel == LevelPerfect || (a.Correction != nil && strings.TrimSpace(a.Correction.Corrected) == "") {
		a.Correction = nil
	}
	return a
}

// SendResult is the outcome of SendMessage.
type SendResult struct {
	Message *domain.Message
	// Duplicate is true when the client key was already used; nothing new
	// was stored and no checks ran.
	Duplicate bool
	Accuracy  *Accuracy
	// Reply is the persona's answer in bot matches.
	Reply *domain.Message
}

// RoomView is a room plus its ordered messages.
type RoomView struct {
	Room     *domain.Room     `json:"room"`
	Messages []domain.Message `json:"messages"`
}

// SessionService handles message traffic and the end of a session.
type SessionService struct {
	Store store.RoomStore
	Gen   llm.Generator
	Now   func() time.Time

	MaxMessageRunes int
	LLMTimeout      time.Duration
}

// NewSessionService constructs a SessionService with default limits.
func NewSessionService(st store.RoomStore, gen llm.Generator) *SessionService {
	if gen == nil {
		gen = llm.Disabled{}
	}
	return &SessionService{
		Store:           st,
		Gen:             gen,
		Now:             func() time.Time { return time.Now().UTC() },
		MaxMessageRunes: DefaultMaxMessageRunes,
		LLMTimeout:      DefaultLLMTimeout,
	}
}

func (s *SessionService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *SessionService) generate(ctx context.Context, prompt string) (string, error) {
	if s.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LLMTimeout)
		defer cancel()
	}
	return s.Gen.Generate(ctx, prompt)
}

func (s *SessionService) liveRoom(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := s.Store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	switch room.Status {
	case domain.StatusWaiting:
		return nil, ErrRoomNotMatched
	case domain.StatusEnded:
		return nil, ErrRoomEnded
	}
	return room, nil
}

// SendMessage appends a message from senderID. A non-empty clientKey makes
// the call idempotent per (room, sender). Fresh human messages get an
// accuracy check and, in bot matches, a persona reply; both run
// concurrently and fall back to defaults on LLM failure.
func (s *SessionService) SendMessage(ctx context.Context, roomID, senderID, text, clientKey string) (*SendResult, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "SendMessage", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("user.id", senderID),
	))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	room, err := s.liveRoom(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{RoomID: roomID, SenderID: senderID, Text: text, CreatedAt: s.now()}
	if key := strings.TrimSpace(clientKey); key != "" {
		msg.ClientKey = &key
	}
	stored, created, err := s.Store.AppendMessage(ctx, msg)
	switch {
	case errors.Is(err, store.ErrRoomClosed):
		// Ended between the status read and the write.
		return nil, ErrRoomEnded
	case err != nil:
		return nil, fmt.Errorf("append message: %w", err)
	}
	if !created {
		span.SetAttributes(attribute.Bool("duplicate", true))
		return &SendResult{Message: stored, Duplicate: true}, nil
	}

	res := &SendResult{Message: stored}
	var g errgroup.Group
	g.Go(func() error {
		acc := s.checkAccuracy(ctx, text)
		res.Accuracy = &acc
		return nil
	})
	if room.IsBotMatch && room.OpponentID != nil && senderID != *room.OpponentID {
		g.Go(func() error {
			reply, err := s.botReply(ctx, room, stored)
			res.Reply = reply
			return err
		})
	}
	if err := g.Wait(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Msg("persona reply not stored")
	}
	return res, nil
}

const accuracyPrompt = `You are a friendly, encouraging English coach. Check this sentence for grammar and spelling errors.

Sentence: %q

Accuracy = 100 - (errors x 50 / wordCount). Be lenient on casual speech, contractions and informal style; short casual messages like "OK" or "Nice!" are 100.

Return JSON only, one of:
{"accuracy": 100, "errorLevel": "perfect", "correction": null}
{"accuracy": 85, "errorLevel": "suggestion", "correction": {"original": "gonna", "corrected": "going to", "reason": "Casual is fine! Just a tiny polish"}}
{"accuracy": 70, "errorLevel": "mistake", "correction": {"original": "I going", "corrected": "I am going", "reason": "Almost! Just add 'am'"}}`

func (s *SessionService) checkAccuracy(ctx context.Context, text string) Accuracy {
	out, err := s.generate(ctx, fmt.Sprintf(accuracyPrompt, text))
	if err != nil {
		llmFallbacks.WithLabelValues("accuracy").Inc()
		zerolog.Ctx(ctx).Debug().Err(err).Msg("accuracy check unavailable")
		return PerfectAccuracy()
	}
	acc, ok := llm.DecodeOr(out, PerfectAccuracy())
	if !ok {
		llmFallbacks.WithLabelValues("accuracy").Inc()
	}
	return acc.normalize()
}

const replyInstructions = `INSTRUCTIONS:
- Reply as %s texting a friend
- Keep it SHORT (1-2 sentences max)
- Be casual and natural, NOT formal
- Ask follow-up questions sometimes to keep the chat going
- Make your typical grammar mistakes as per your character
- Reply in English only, even if they write in another language`

func (s *SessionService) botReply(ctx context.Context, room *domain.Room, last *domain.Message) (*domain.Message, error) {
	botID := *room.OpponentID
	persona := domain.Persona{ID: botID, Name: room.OpponentName}
	if room.BotPersona != nil {
		persona = *room.BotPersona
	}

	history, err := s.Store.ListMessages(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if len(history) > replyHistory {
		history = history[len(history)-replyHistory:]
	}

	var b strings.Builder
	b.WriteString(persona.Prompt)
	b.WriteString("\n\nRecent chat:\n")
	for _, m := range history {
		who := "Them"
		if m.SenderID == botID {
			who = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Text)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, replyInstructions, persona.Name)

	text, err := s.generate(ctx, b.String())
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		llmFallbacks.WithLabelValues("reply").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", room.ID).Msg("persona reply generation failed; using canned reply")
		text = FallbackReply
	}

	key := "reply:" + last.ID
	reply := &domain.Message{RoomID: room.ID, SenderID: botID, Text: text, ClientKey: &key, CreatedAt: s.now()}
	if !reply.CreatedAt.After(last.CreatedAt) {
		reply.CreatedAt = last.CreatedAt.Add(time.Millisecond)
	}
	stored, _, err := s.Store.AppendMessage(context.WithoutCancel(ctx), reply)
	return stored, err
}

// EndSession moves a matched room to ended. Ending an ended room is a
// no-op; a waiting room has nothing to end.
func (s *SessionService) EndSession(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "EndSession", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	room, err := s.Store.Transact(ctx, roomID, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		if !r.IsParticipant(userID) {
			return false, ErrNotParticipant
		}
		return endRoom(r, userID, s.now())
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// GetRoom returns the room and its messages to a participant.
func (s *SessionService) GetRoom(ctx context.Context, roomID, userID string) (*RoomView, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "GetRoom", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	room, err := s.Store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	msgs, err := s.Store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &RoomView{Room: room, Messages: msgs}, nil
}
