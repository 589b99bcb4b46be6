package services

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

// retryPolicy bounds the matchmaking query/attempt loop.
type retryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// isContention reports whether err means another writer got there first.
func isContention(err error) bool {
	return errors.Is(err, ErrRoomTaken) || errors.Is(err, store.ErrConflict)
}

// joinFirstAvailable lists candidates and tries join on each in order,
// returning the first room joined. A candidate lost to contention moves on
// to the next one; when every candidate of a query was lost, it pauses and
// queries again, up to p.Attempts queries. An empty query ends the loop at
// once. It returns (nil, nil) when nothing could be joined; any other join
// or query error aborts.
func joinFirstAvailable(
	ctx context.Context,
	p retryPolicy,
	query func(ctx context.Context) ([]domain.Room, error),
	join func(ctx context.Context, candidate domain.Room) (*domain.Room, error),
	onContention func(candidate domain.Room),
) (*domain.Room, error) {
	attempts := max(p.Attempts, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			sleep := p.Sleep
			if sleep == nil {
				sleep = sleepCtx
			}
			if err := sleep(ctx, p.Backoff); err != nil {
				return nil, err
			}
		}

		candidates, err := query(ctx)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		for _, c := range candidates {
			room, err := join(ctx, c)
			switch {
			case err == nil:
				return room, nil
			case isContention(err):
				if onContention != nil {
					onContention(c)
				}
			default:
				return nil, err
			}
		}
	}
	return nil, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
