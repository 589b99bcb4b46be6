// Package store defines the document-store contract the battle services are
// written against. Concrete backends live in repo (GORM/SQLite), mongostore
// (MongoDB) and memstore (in-process, tests and local runs).
//
// Every mutation of a room goes through Transact, which gives compare-and-set
// semantics: the callback sees the latest stored snapshot, and its changes are
// committed only if nobody else wrote the room in between. On a lost race the
// callback is re-run against the fresh snapshot, so preconditions such as
// "status is still waiting" are always evaluated at commit time.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

var (
	// ErrNotFound is returned when a room (or message) does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a compare-and-set kept losing to
	// concurrent writers after MaxTxAttempts tries.
	ErrConflict = errors.New("store: version conflict")
	// ErrInvariant is returned when a write would break a room invariant.
	ErrInvariant = errors.New("store: room invariant violated")
	// ErrRoomClosed is returned by AppendMessage when the room is not
	// matched at the moment the message would be written.
	ErrRoomClosed = errors.New("store: room not accepting messages")
)

// MaxTxAttempts bounds how many times Transact re-runs its callback.
const MaxTxAttempts = 5

// WaitingQuery selects candidate rooms for the random queue.
type WaitingQuery struct {
	Mode        domain.RoomMode
	Since       time.Time // only rooms created strictly after Since
	ExcludeHost string
	Limit       int
}

// Tx is the view a TxFunc gets of one room transaction.
type Tx interface {
	// Room returns the working copy of the room; mutate it in place.
	Room() *domain.Room
	// Profile returns the stored profile for userID, or an empty one.
	Profile(userID string) (*domain.Profile, error)
	// PutProfile stages a profile write committed together with the room.
	PutProfile(p *domain.Profile)
}

// TxFunc inspects and mutates a room inside Transact. Returning write=false
// commits nothing; a non-nil error aborts the transaction and is returned
// unchanged to the caller of Transact.
type TxFunc func(tx Tx) (write bool, err error)

// RoomStore is the document store consumed by the services.
type RoomStore interface {
	// CreateRoom inserts a new room. ID, Version and CreatedAt are assigned
	// when empty.
	CreateRoom(ctx context.Context, room *domain.Room) error
	// GetRoom returns the current snapshot of a room or ErrNotFound.
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
	// FindRoomByCode returns the waiting room with the given code and mode.
	FindRoomByCode(ctx context.Context, code string, mode domain.RoomMode) (*domain.Room, error)
	// FindHostedWaiting returns the caller's own waiting room of the given mode.
	FindHostedWaiting(ctx context.Context, hostID string, mode domain.RoomMode) (*domain.Room, error)
	// FindActive returns the most recently started matched room of the
	// given mode in which userID is host or opponent, started after since.
	FindActive(ctx context.Context, userID string, mode domain.RoomMode, since time.Time) (*domain.Room, error)
	// ListWaiting returns waiting rooms, oldest first.
	ListWaiting(ctx context.Context, q WaitingQuery) ([]domain.Room, error)
	// Transact runs fn as one atomic read-verify-write unit on a room and
	// returns the room as committed (or as read, when fn wrote nothing).
	Transact(ctx context.Context, roomID string, fn TxFunc) (*domain.Room, error)
	// AppendMessage stores a message. When the message carries a ClientKey
	// already used by the same sender in the same room, the stored message
	// is returned and created is false. Otherwise the room must be matched
	// (ErrRoomClosed if not, ErrNotFound if missing); the append bumps the
	// room version, so it is ordered against Transact commits on that room.
	AppendMessage(ctx context.Context, m *domain.Message) (stored *domain.Message, created bool, err error)
	// ListMessages returns a room's messages ordered by (CreatedAt, ID).
	ListMessages(ctx context.Context, roomID string) ([]domain.Message, error)
}

// Retry runs attempt until it succeeds, fails with something other than
// ErrConflict, or MaxTxAttempts is reached.
func Retry(ctx context.Context, attempt func() error) error {
	var err error
	for i := 0; i < MaxTxAttempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = attempt(); !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
