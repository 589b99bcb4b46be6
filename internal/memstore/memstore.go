// Package memstore is an in-process store.RoomStore. It keeps the same
// optimistic compare-and-set discipline as the database backends: the
// transaction callback runs without holding the lock, and the commit only
// succeeds if the room's version is unchanged. It is meant for tests and
// single-process local runs (STORE_DRIVER=memory).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*domain.Room
	profiles map[string]*domain.Profile
	messages map[string][]domain.Message

	// beforeCommit, when set, runs between the callback and the commit.
	// Tests use it to force interleavings.
	beforeCommit func(roomID string)
}

var _ store.RoomStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		rooms:    make(map[string]*domain.Room),
		profiles: make(map[string]*domain.Profile),
		messages: make(map[string][]domain.Message),
	}
}

// CreateRoom implements store.RoomStore.
func (s *Store) CreateRoom(_ context.Context, room *domain.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	if err := store.CheckRoom(room); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = store.CloneRoom(room)
	return nil
}

// GetRoom implements store.RoomStore.
func (s *Store) GetRoom(_ context.Context, id string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.CloneRoom(r), nil
}

// FindRoomByCode implements store.RoomStore.
func (s *Store) FindRoomByCode(_ context.Context, code string, mode domain.RoomMode) (*domain.Room, error) {
	return s.findOne(func(r *domain.Room) bool {
		return r.Code == code && r.Mode == mode && r.Status == domain.StatusWaiting
	})
}

// FindHostedWaiting implements store.RoomStore.
func (s *Store) FindHostedWaiting(_ context.Context, hostID string, mode domain.RoomMode) (*domain.Room, error) {
	return s.findOne(func(r *domain.Room) bool {
		return r.HostID == hostID && r.Mode == mode && r.Status == domain.StatusWaiting
	})
}

// FindActive implements store.RoomStore.
func (s *Store) FindActive(_ context.Context, userID string, mode domain.RoomMode, since time.Time) (*domain.Room, error) {
	rooms := s.filter(func(r *domain.Room) bool {
		return r.Status == domain.StatusMatched && r.Mode == mode && r.IsParticipant(userID) &&
			r.StartedAt != nil && r.StartedAt.After(since)
	})
	if len(rooms) == 0 {
		return nil, store.ErrNotFound
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].StartedAt.After(*rooms[j].StartedAt) })
	r := rooms[0]
	return &r, nil
}

func (s *Store) findOne(match func(*domain.Room) bool) (*domain.Room, error) {
	rooms := s.filter(match)
	if len(rooms) == 0 {
		return nil, store.ErrNotFound
	}
	r := rooms[0]
	return &r, nil
}

// ListWaiting implements store.RoomStore.
func (s *Store) ListWaiting(_ context.Context, q store.WaitingQuery) ([]domain.Room, error) {
	rooms := s.filter(func(r *domain.Room) bool {
		return r.Status == domain.StatusWaiting &&
			r.Mode == q.Mode &&
			r.CreatedAt.After(q.Since) &&
			(q.ExcludeHost == "" || r.HostID != q.ExcludeHost)
	})
	if q.Limit > 0 && len(rooms) > q.Limit {
		rooms = rooms[:q.Limit]
	}
	return rooms, nil
}

// filter returns matching rooms, oldest first.
func (s *Store) filter(match func(*domain.Room) bool) []domain.Room {
	s.mu.RLock()
	out := make([]domain.Room, 0)
	for _, r := range s.rooms {
		if match(r) {
			out = append(out, *store.CloneRoom(r))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type tx struct {
	s        *Store
	room     *domain.Room
	profiles map[string]*domain.Profile
	read     map[string]time.Time // profile UpdatedAt as read, for conflict detection
}

func (t *tx) Room() *domain.Room { return t.room }

func (t *tx) Profile(userID string) (*domain.Profile, error) {
	if p, ok := t.profiles[userID]; ok {
		return store.CloneProfile(p), nil
	}
	t.s.mu.RLock()
	p, ok := t.s.profiles[userID]
	t.s.mu.RUnlock()
	if !ok {
		t.read[userID] = time.Time{}
		return &domain.Profile{UserID: userID}, nil
	}
	t.read[userID] = p.UpdatedAt
	return store.CloneProfile(p), nil
}

func (t *tx) PutProfile(p *domain.Profile) {
	t.profiles[p.UserID] = store.CloneProfile(p)
}

// Transact implements store.RoomStore.
func (s *Store) Transact(ctx context.Context, roomID string, fn store.TxFunc) (*domain.Room, error) {
	var out *domain.Room
	err := store.Retry(ctx, func() error {
		snap, err := s.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		t := &tx{
			s:        s,
			room:     store.CloneRoom(snap),
			profiles: make(map[string]*domain.Profile),
			read:     make(map[string]time.Time),
		}
		write, err := fn(t)
		if err != nil {
			return err
		}
		if !write {
			out = snap
			return nil
		}
		if err := store.CheckWrite(snap, t.room); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit(roomID)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.rooms[roomID]
		if !ok {
			return store.ErrNotFound
		}
		if cur.Version != snap.Version {
			return store.ErrConflict
		}
		for uid, seen := range t.read {
			if p, ok := s.profiles[uid]; ok && !p.UpdatedAt.Equal(seen) {
				return store.ErrConflict
			}
		}
		now := time.Now().UTC()
		for uid, p := range t.profiles {
			p.UpdatedAt = now
			s.profiles[uid] = p
		}
		t.room.Version = snap.Version + 1
		s.rooms[roomID] = store.CloneRoom(t.room)
		out = store.CloneRoom(t.room)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage implements store.RoomStore.
func (s *Store) AppendMessage(_ context.Context, m *domain.Message) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ClientKey != nil {
		for _, prev := range s.messages[m.RoomID] {
			if prev.SenderID == m.SenderID && prev.ClientKey != nil && *prev.ClientKey == *m.ClientKey {
				cp := prev
				return &cp, false, nil
			}
		}
	}
	room, ok := s.rooms[m.RoomID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if room.Status != domain.StatusMatched {
		return nil, false, store.ErrRoomClosed
	}
	room.Version++
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.RoomID] = append(s.messages[m.RoomID], *m)
	cp := *m
	return &cp, true, nil
}

// ListMessages implements store.RoomStore.
func (s *Store) ListMessages(_ context.Context, roomID string) ([]domain.Message, error) {
	s.mu.RLock()
	out := append([]domain.Message{}, s.messages[roomID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
