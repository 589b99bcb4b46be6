// Package storetest holds the behavioral contract every store.RoomStore
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.RoomStore

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("FindByCodeAndHost", func(t *testing.T) { testFind(t, newStore(t)) })
	t.Run("ListWaiting", func(t *testing.T) { testListWaiting(t, newStore(t)) })
	t.Run("FindActive", func(t *testing.T) { testFindActive(t, newStore(t)) })
	t.Run("TransactWrites", func(t *testing.T) { testTransact(t, newStore(t)) })
	t.Run("TransactProfiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("TransactRejectsInvariantBreak", func(t *testing.T) { testInvariant(t, newStore(t)) })
	t.Run("ConcurrentJoinHasOneWinner", func(t *testing.T) { testConcurrentJoin(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("AppendNeedsMatchedRoom", func(t *testing.T) { testAppendNeedsMatchedRoom(t, newStore(t)) })
}

func waitingRoom(host string, mode domain.RoomMode, code string, created time.Time) *domain.Room {
	return &domain.Room{
		Code:      code,
		Mode:      mode,
		Status:    domain.StatusWaiting,
		HostID:    host,
		HostName:  "Host " + host,
		CreatedAt: created,
	}
}

func mustCreate(t *testing.T, s store.RoomStore, r *domain.Room) *domain.Room {
	t.Helper()
	if err := s.CreateRoom(context.Background(), r); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return r
}

func testCreateAndGet(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	r := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND1000", time.Time{}))
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("CreateRoom must assign ID and CreatedAt: %+v", r)
	}
	got, err := s.GetRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.HostID != "u1" || got.Status != domain.StatusWaiting || got.Code != "RND1000" {
		t.Fatalf("unexpected room: %+v", got)
	}
	if _, err := s.GetRoom(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRoom(missing) = %v; want ErrNotFound", err)
	}
	bad := &domain.Room{Status: domain.StatusMatched, HostID: "u1"}
	if err := s.CreateRoom(ctx, bad); !errors.Is(err, store.ErrInvariant) {
		t.Fatalf("CreateRoom(matched without opponent) = %v; want ErrInvariant", err)
	}
}

func testFind(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	priv := mustCreate(t, s, waitingRoom("u1", domain.ModePrivate, "4321", now))
	mustCreate(t, s, waitingRoom("u2", domain.ModeRandom, "4321", now))

	got, err := s.FindRoomByCode(ctx, "4321", domain.ModePrivate)
	if err != nil || got.ID != priv.ID {
		t.Fatalf("FindRoomByCode = %+v, %v; want %s", got, err, priv.ID)
	}
	if _, err := s.FindRoomByCode(ctx, "9999", domain.ModePrivate); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindRoomByCode(unknown) = %v; want ErrNotFound", err)
	}

	hosted, err := s.FindHostedWaiting(ctx, "u2", domain.ModeRandom)
	if err != nil || hosted.HostID != "u2" {
		t.Fatalf("FindHostedWaiting = %+v, %v", hosted, err)
	}
	if _, err := s.FindHostedWaiting(ctx, "u1", domain.ModeRandom); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindHostedWaiting(other mode) = %v; want ErrNotFound", err)
	}

	// Matched rooms are no longer findable by code.
	if _, err := s.Transact(ctx, priv.ID, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		opp := "u9"
		r.Status, r.OpponentID = domain.StatusMatched, &opp
		return true, nil
	}); err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if _, err := s.FindRoomByCode(ctx, "4321", domain.ModePrivate); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindRoomByCode(matched) = %v; want ErrNotFound", err)
	}
}

func matchAt(t *testing.T, s store.RoomStore, id, opponent string, at time.Time) {
	t.Helper()
	if _, err := s.Transact(context.Background(), id, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		r.Status, r.OpponentID, r.StartedAt = domain.StatusMatched, &opponent, &at
		return true, nil
	}); err != nil {
		t.Fatalf("match %s: %v", id, err)
	}
}

func testFindActive(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)

	old := mustCreate(t, s, waitingRoom("a", domain.ModeRandom, "RND1", base))
	matchAt(t, s, old.ID, "b", base.Add(time.Minute))
	recent := mustCreate(t, s, waitingRoom("c", domain.ModeRandom, "RND2", base))
	matchAt(t, s, recent.ID, "a", base.Add(8*time.Minute))
	priv := mustCreate(t, s, waitingRoom("a", domain.ModePrivate, "1234", base))
	matchAt(t, s, priv.ID, "d", base.Add(9*time.Minute))
	mustCreate(t, s, waitingRoom("e", domain.ModeRandom, "RND3", base.Add(9*time.Minute)))

	since := base.Add(2 * time.Minute)
	got, err := s.FindActive(ctx, "a", domain.ModeRandom, since)
	if err != nil || got.ID != recent.ID {
		t.Fatalf("FindActive(opponent side) = %+v, %v; want %s", got, err, recent.ID)
	}
	if got, err := s.FindActive(ctx, "c", domain.ModeRandom, since); err != nil || got.ID != recent.ID {
		t.Fatalf("FindActive(host side) = %+v, %v; want %s", got, err, recent.ID)
	}
	if _, err := s.FindActive(ctx, "b", domain.ModeRandom, since); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindActive(started before since) = %v; want ErrNotFound", err)
	}
	if _, err := s.FindActive(ctx, "e", domain.ModeRandom, since); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindActive(waiting) = %v; want ErrNotFound", err)
	}

	if _, err := s.Transact(ctx, recent.ID, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		end := base.Add(9 * time.Minute)
		r.Status, r.EndedAt = domain.StatusEnded, &end
		return true, nil
	}); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := s.FindActive(ctx, "a", domain.ModeRandom, since); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindActive(ended) = %v; want ErrNotFound", err)
	}
}

func testListWaiting(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)

	stale := mustCreate(t, s, waitingRoom("old", domain.ModeRandom, "RND1", base))
	second := mustCreate(t, s, waitingRoom("b", domain.ModeRandom, "RND3", base.Add(8*time.Minute)))
	first := mustCreate(t, s, waitingRoom("a", domain.ModeRandom, "RND2", base.Add(7*time.Minute)))
	mustCreate(t, s, waitingRoom("me", domain.ModeRandom, "RND4", base.Add(9*time.Minute)))
	mustCreate(t, s, waitingRoom("p", domain.ModePrivate, "1234", base.Add(9*time.Minute)))

	got, err := s.ListWaiting(ctx, store.WaitingQuery{
		Mode:        domain.ModeRandom,
		Since:       base.Add(time.Minute),
		ExcludeHost: "me",
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("ListWaiting: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		ids := make([]string, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.HostID)
		}
		t.Fatalf("ListWaiting hosts = %v; want [a b] (stale %s excluded)", ids, stale.ID)
	}

	got, err = s.ListWaiting(ctx, store.WaitingQuery{Mode: domain.ModeRandom, Since: base.Add(time.Minute), Limit: 1})
	if err != nil || len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("ListWaiting limit=1 = %+v, %v", got, err)
	}
}

func testTransact(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	r := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND5", time.Time{}))
	v0 := r.Version

	// write=false leaves the room untouched
	got, err := s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
		tx.Room().HostName = "ignored"
		return false, nil
	})
	if err != nil || got.Version != v0 {
		t.Fatalf("read-only Transact = %+v, %v", got, err)
	}
	if cur, _ := s.GetRoom(ctx, r.ID); cur.HostName == "ignored" {
		t.Fatalf("read-only Transact must not persist changes")
	}

	// callback errors abort
	boom := errors.New("boom")
	if _, err := s.Transact(ctx, r.ID, func(store.Tx) (bool, error) { return true, boom }); !errors.Is(err, boom) {
		t.Fatalf("Transact must return callback error, got %v", err)
	}

	// write bumps the version and persists
	got, err = s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
		room := tx.Room()
		opp := "u2"
		now := time.Now().UTC()
		room.Status, room.OpponentID, room.OpponentName, room.StartedAt = domain.StatusMatched, &opp, "Two", &now
		room.RoleData = &domain.RoleData{Topic: "Job Interview"}
		return true, nil
	})
	if err != nil {
		t.Fatalf("Transact write: %v", err)
	}
	if got.Version != v0+1 || got.Status != domain.StatusMatched {
		t.Fatalf("committed room = %+v; want version %d matched", got, v0+1)
	}
	cur, err := s.GetRoom(ctx, r.ID)
	if err != nil || cur.OpponentName != "Two" || cur.RoleData == nil || cur.RoleData.Topic != "Job Interview" {
		t.Fatalf("stored room = %+v, %v", cur, err)
	}

	if _, err := s.Transact(ctx, "missing", func(store.Tx) (bool, error) { return true, nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Transact(missing) = %v; want ErrNotFound", err)
	}
}

func testProfiles(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	r := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND6", time.Time{}))

	for i, bot := range []string{"a", "b"} {
		_, err := s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
			p, err := tx.Profile("u1")
			if err != nil {
				return false, err
			}
			if len(p.LastBots) != i {
				return false, fmt.Errorf("profile has %d bots before write %d", len(p.LastBots), i)
			}
			p.LastBots = append(p.LastBots, bot)
			tx.PutProfile(p)
			return true, nil
		})
		if err != nil {
			t.Fatalf("profile write %d: %v", i, err)
		}
	}

	_, err := s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
		p, err := tx.Profile("u1")
		if err != nil {
			return false, err
		}
		if p.UserID != "u1" || len(p.LastBots) != 2 || p.LastBots[0] != "a" || p.LastBots[1] != "b" {
			return false, fmt.Errorf("unexpected profile %+v", p)
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("profile read: %v", err)
	}
}

func testInvariant(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	r := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND7", time.Time{}))
	_, err := s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
		opp := "u2"
		tx.Room().OpponentID = &opp // status left as waiting
		return true, nil
	})
	if !errors.Is(err, store.ErrInvariant) {
		t.Fatalf("Transact breaking invariant = %v; want ErrInvariant", err)
	}
	cur, _ := s.GetRoom(ctx, r.ID)
	if cur.OpponentID != nil {
		t.Fatalf("invariant-breaking write was persisted")
	}
}

var errTaken = errors.New("taken")

func testConcurrentJoin(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	r := mustCreate(t, s, waitingRoom("host", domain.ModeRandom, "RND8", time.Time{}))

	const joiners = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < joiners; i++ {
		id := fmt.Sprintf("joiner-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transact(ctx, r.ID, func(tx store.Tx) (bool, error) {
				room := tx.Room()
				if room.Status != domain.StatusWaiting {
					return false, errTaken
				}
				joiner := id
				room.Status, room.OpponentID = domain.StatusMatched, &joiner
				return true, nil
			})
			if err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			} else if !errors.Is(err, errTaken) && !errors.Is(err, store.ErrConflict) {
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v; want exactly one", winners)
	}
	cur, err := s.GetRoom(ctx, r.ID)
	if err != nil || cur.OpponentID == nil || *cur.OpponentID != winners[0] {
		t.Fatalf("stored opponent %v does not match winner %s (err %v)", cur.OpponentID, winners[0], err)
	}
}

func testMessages(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)
	r1 := mustCreate(t, s, waitingRoom("u1", domain.ModePrivate, "1111", t0))
	matchAt(t, s, r1.ID, "u2", t0)
	r2 := mustCreate(t, s, waitingRoom("u1", domain.ModePrivate, "2222", t0))
	matchAt(t, s, r2.ID, "u3", t0)

	key := "retry-1"
	m1, created, err := s.AppendMessage(ctx, &domain.Message{RoomID: r1.ID, SenderID: "u1", Text: "hello", ClientKey: &key, CreatedAt: t0})
	if err != nil || !created || m1.ID == "" {
		t.Fatalf("AppendMessage = %+v, %t, %v", m1, created, err)
	}
	dup, created, err := s.AppendMessage(ctx, &domain.Message{RoomID: r1.ID, SenderID: "u1", Text: "hello again", ClientKey: &key})
	if err != nil || created || dup.ID != m1.ID || dup.Text != "hello" {
		t.Fatalf("duplicate AppendMessage = %+v, %t, %v; want stored %s", dup, created, err, m1.ID)
	}
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: r1.ID, SenderID: "u2", Text: "hi", CreatedAt: t0.Add(time.Second)}); err != nil {
		t.Fatalf("AppendMessage u2: %v", err)
	}
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: r2.ID, SenderID: "u1", Text: "other room", CreatedAt: t0}); err != nil {
		t.Fatalf("AppendMessage r2: %v", err)
	}

	msgs, err := s.ListMessages(ctx, r1.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "hello" || msgs[1].Text != "hi" {
		t.Fatalf("ListMessages = %+v", msgs)
	}
	if empty, err := s.ListMessages(ctx, "none"); err != nil || len(empty) != 0 {
		t.Fatalf("ListMessages(none) = %+v, %v", empty, err)
	}
	if got, _ := s.GetRoom(ctx, r1.ID); got.Version != 3 {
		t.Fatalf("room version after match and two appends = %d; want 3", got.Version)
	}
}

func testAppendNeedsMatchedRoom(t *testing.T, s store.RoomStore) {
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)
	waiting := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND1", t0))
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: waiting.ID, SenderID: "u1", Text: "anyone?"}); !errors.Is(err, store.ErrRoomClosed) {
		t.Fatalf("append to waiting room = %v; want ErrRoomClosed", err)
	}
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: "missing", SenderID: "u1", Text: "hi"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("append to missing room = %v; want ErrNotFound", err)
	}

	live := mustCreate(t, s, waitingRoom("u1", domain.ModeRandom, "RND2", t0))
	matchAt(t, s, live.ID, "u2", t0)
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: live.ID, SenderID: "u2", Text: "last word"}); err != nil {
		t.Fatalf("append to matched room: %v", err)
	}
	ended, err := s.Transact(ctx, live.ID, func(tx store.Tx) (bool, error) {
		r := tx.Room()
		end := t0.Add(time.Minute)
		r.Status, r.EndedAt = domain.StatusEnded, &end
		return true, nil
	})
	if err != nil || ended.Status != domain.StatusEnded {
		t.Fatalf("end = %+v, %v", ended, err)
	}
	if _, _, err := s.AppendMessage(ctx, &domain.Message{RoomID: live.ID, SenderID: "u1", Text: "too late"}); !errors.Is(err, store.ErrRoomClosed) {
		t.Fatalf("append to ended room = %v; want ErrRoomClosed", err)
	}
	msgs, _ := s.ListMessages(ctx, live.ID)
	if len(msgs) != 1 || msgs[0].Text != "last word" {
		t.Fatalf("messages = %+v", msgs)
	}
}
