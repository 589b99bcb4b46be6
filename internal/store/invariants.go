package store

import (
	"fmt"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

var statusRank = map[domain.RoomStatus]int{
	domain.StatusWaiting: 0,
	domain.StatusMatched: 1,
	domain.StatusEnded:   2,
}

// CheckRoom verifies the construction invariants of a room:
//   - opponent set ⇔ status is not waiting
//   - results set ⇒ status is ended
func CheckRoom(r *domain.Room) error {
	rank, ok := statusRank[r.Status]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, r.Status)
	}
	hasOpp := r.OpponentID != nil && *r.OpponentID != ""
	if hasOpp != (rank > 0) {
		return fmt.Errorf("%w: opponent set=%t with status %s", ErrInvariant, hasOpp, r.Status)
	}
	if r.Results != nil && r.Status != domain.StatusEnded {
		return fmt.Errorf("%w: results stored on %s room", ErrInvariant, r.Status)
	}
	return nil
}

// CheckWrite verifies next is a legal successor of prev: invariants hold,
// status never regresses, and an assigned opponent or stored result is
// never replaced.
func CheckWrite(prev, next *domain.Room) error {
	if err := CheckRoom(next); err != nil {
		return err
	}
	if statusRank[next.Status] < statusRank[prev.Status] {
		return fmt.Errorf("%w: status %s → %s", ErrInvariant, prev.Status, next.Status)
	}
	if prev.OpponentID != nil && (next.OpponentID == nil || *next.OpponentID != *prev.OpponentID) {
		return fmt.Errorf("%w: opponent reassigned", ErrInvariant)
	}
	if prev.Results != nil && (next.Results == nil || *next.Results != *prev.Results) {
		return fmt.Errorf("%w: results replaced", ErrInvariant)
	}
	return nil
}
