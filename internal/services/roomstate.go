package services

import (
	"fmt"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// transition moves r one step forward. waiting → matched stamps StartedAt,
// matched → ended stamps EndedAt; anything else is ErrInvalidTransition.
func transition(r *domain.Room, next domain.RoomStatus, now time.Time) error {
	switch {
	case r.Status == domain.StatusWaiting && next == domain.StatusMatched:
		r.StartedAt = &now
	case r.Status == domain.StatusMatched && next == domain.StatusEnded:
		r.EndedAt = &now
	default:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// matchRoom assigns opp to a waiting room. The status checked here is the
// one read inside the transaction, so a room that left the waiting state
// since it was listed yields ErrRoomTaken.
func matchRoom(r *domain.Room, opp domain.Participant, now time.Time) error {
	if r.Status != domain.StatusWaiting {
		return ErrRoomTaken
	}
	if err := transition(r, domain.StatusMatched, now); err != nil {
		return err
	}
	id := opp.ID
	r.OpponentID = &id
	r.OpponentName = opp.Name
	r.OpponentAvatar = opp.Avatar
	return nil
}

// endRoom moves a matched room to ended. It reports false, without error,
// when the room already ended.
func endRoom(r *domain.Room, by string, now time.Time) (bool, error) {
	switch r.Status {
	case domain.StatusEnded:
		return false, nil
	case domain.StatusWaiting:
		return false, ErrRoomNotMatched
	}
	if err := transition(r, domain.StatusEnded, now); err != nil {
		return false, err
	}
	r.EndedBy = by
	return true, nil
}

// negotiateDuration returns the session length both sides agree on:
// 0 (unlimited) if either asked for it, otherwise the longer request.
func negotiateDuration(host, joiner int) int {
	if host == 0 || joiner == 0 {
		return 0
	}
	return max(host, joiner)
}

// appendRecent appends id to the rolling history and keeps the last n.
func appendRecent(history []string, id string, n int) []string {
	out := append(append([]string(nil), history...), id)
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
