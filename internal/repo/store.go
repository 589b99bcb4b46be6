package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// Store adapts the repository free functions to store.RoomStore.
// Compare-and-set is a conditional UPDATE on the version column inside a
// database transaction; profile writes share that transaction.
type Store struct {
	DB *gorm.DB
}

var _ store.RoomStore = (*Store)(nil)

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

// translate maps driver errors onto the store taxonomy. SQLite reports
// writer contention as "database is locked"; it is retried like a lost CAS.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, ErrVersionMismatch):
		return store.ErrConflict
	case errors.Is(err, ErrRoomNotMatched):
		return store.ErrRoomClosed
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "database is locked") ||
		strings.Contains(lower, "database table is locked") ||
		strings.Contains(lower, "sqlite_busy") {
		return store.ErrConflict
	}
	return err
}

// CreateRoom implements store.RoomStore.
func (s *Store) CreateRoom(ctx context.Context, r *domain.Room) error {
	if err := store.CheckRoom(r); err != nil {
		return err
	}
	return translate(CreateRoom(ctx, s.DB, r))
}

// GetRoom implements store.RoomStore.
func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	r, err := GetRoom(ctx, s.DB, id)
	return r, translate(err)
}

// FindRoomByCode implements store.RoomStore.
func (s *Store) FindRoomByCode(ctx context.Context, code string, mode domain.RoomMode) (*domain.Room, error) {
	r, err := FindWaitingRoom(ctx, s.DB, mode, "code", code)
	return r, translate(err)
}

// FindHostedWaiting implements store.RoomStore.
func (s *Store) FindHostedWaiting(ctx context.Context, hostID string, mode domain.RoomMode) (*domain.Room, error) {
	r, err := FindWaitingRoom(ctx, s.DB, mode, "host_id", hostID)
	return r, translate(err)
}

// FindActive implements store.RoomStore.
func (s *Store) FindActive(ctx context.Context, userID string, mode domain.RoomMode, since time.Time) (*domain.Room, error) {
	r, err := FindActiveRoom(ctx, s.DB, userID, mode, since)
	return r, translate(err)
}

// ListWaiting implements store.RoomStore.
func (s *Store) ListWaiting(ctx context.Context, q store.WaitingQuery) ([]domain.Room, error) {
	rooms, err := ListWaitingRooms(ctx, s.DB, q.Mode, q.Since, q.ExcludeHost, q.Limit)
	return rooms, translate(err)
}

type gormTx struct {
	ctx    context.Context
	db     *gorm.DB
	room   *domain.Room
	staged map[string]*domain.Profile
}

func (t *gormTx) Room() *domain.Room { return t.room }

func (t *gormTx) Profile(userID string) (*domain.Profile, error) {
	if p, ok := t.staged[userID]; ok {
		return store.CloneProfile(p), nil
	}
	p, err := GetProfile(t.ctx, t.db, userID)
	if errors.Is(err, ErrNotFound) {
		return &domain.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (t *gormTx) PutProfile(p *domain.Profile) {
	t.staged[p.UserID] = store.CloneProfile(p)
}

// Transact implements store.RoomStore.
func (s *Store) Transact(ctx context.Context, roomID string, fn store.TxFunc) (*domain.Room, error) {
	var out *domain.Room
	err := store.Retry(ctx, func() error {
		return translate(s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			snap, err := GetRoom(ctx, db, roomID)
			if err != nil {
				return err
			}
			tx := &gormTx{ctx: ctx, db: db, room: store.CloneRoom(snap), staged: map[string]*domain.Profile{}}
			write, err := fn(tx)
			if err != nil {
				return err
			}
			if !write {
				out = snap
				return nil
			}
			if err := store.CheckWrite(snap, tx.room); err != nil {
				return err
			}
			tx.room.Version = snap.Version + 1
			if err := UpdateRoomCAS(ctx, db, tx.room, snap.Version); err != nil {
				return err
			}
			for _, p := range tx.staged {
				if err := UpsertProfile(ctx, db, p); err != nil {
					return err
				}
			}
			out = tx.room
			return nil
		}))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage implements store.RoomStore.
func (s *Store) AppendMessage(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if m.ClientKey != nil {
		prev, err := FindMessageByClientKey(ctx, s.DB, m.RoomID, m.SenderID, *m.ClientKey)
		if err == nil {
			return prev, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, translate(err)
		}
	}
	err := store.Retry(ctx, func() error {
		return translate(s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			if err := TouchMatchedRoom(ctx, db, m.RoomID); err != nil {
				return err
			}
			return CreateMessage(ctx, db, m)
		}))
	})
	if err != nil {
		// A concurrent retry with the same key may have won the unique index.
		if m.ClientKey != nil {
			if prev, ferr := FindMessageByClientKey(ctx, s.DB, m.RoomID, m.SenderID, *m.ClientKey); ferr == nil {
				return prev, false, nil
			}
		}
		return nil, false, err
	}
	return m, true, nil
}

// ListMessages implements store.RoomStore.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	msgs, err := ListMessages(ctx, s.DB, roomID, 0)
	return msgs, translate(err)
}

// Ping reports whether the database answers; used by /ready.
func (s *Store) Ping(ctx context.Context) error { return Ping(ctx, s.DB) }
