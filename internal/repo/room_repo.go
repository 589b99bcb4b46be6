// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for rooms and
// learner profiles.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition. The Store type in store.go composes them into the
// store.RoomStore contract.
//
// Error semantics:
//   - When a room is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - UpdateRoomCAS returns ErrVersionMismatch when the stored version moved.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrVersionMismatch is returned by UpdateRoomCAS when another writer
// committed the room after it was read.
var ErrVersionMismatch = errors.New("room version mismatch")

// CreateRoom inserts a room, assigning a UUID and UTC CreatedAt when unset.
func CreateRoom(ctx context.Context, db *gorm.DB, r *domain.Room) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetRoom fetches a room by ID, or ErrNotFound if missing.
func GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	var r domain.Room
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// FindWaitingRoom returns the oldest waiting room matching the extra
// equality conditions (e.g. code or host_id) for the given mode.
func FindWaitingRoom(ctx context.Context, db *gorm.DB, mode domain.RoomMode, column, value string) (*domain.Room, error) {
	var r domain.Room
	err := db.WithContext(ctx).
		Where("status = ? AND mode = ?", domain.StatusWaiting, mode).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).
		Order("created_at ASC, id ASC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindActiveRoom returns the latest matched room of a mode with userID on
// either side, started after since.
func FindActiveRoom(ctx context.Context, db *gorm.DB, userID string, mode domain.RoomMode, since time.Time) (*domain.Room, error) {
	var r domain.Room
	err := db.WithContext(ctx).
		Where("status = ? AND mode = ? AND started_at > ?", domain.StatusMatched, mode, since.UTC()).
		Where("host_id = ? OR opponent_id = ?", userID, userID).
		Order("started_at DESC, id DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListWaitingRooms returns waiting rooms of a mode created after since,
// excluding excludeHost (when non-empty), oldest first, capped at limit.
func ListWaitingRooms(ctx context.Context, db *gorm.DB, mode domain.RoomMode, since time.Time, excludeHost string, limit int) ([]domain.Room, error) {
	q := db.WithContext(ctx).
		Where("status = ? AND mode = ? AND created_at > ?", domain.StatusWaiting, mode, since.UTC())
	if excludeHost != "" {
		q = q.Where("host_id <> ?", excludeHost)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	out := make([]domain.Room, 0)
	err := q.Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// UpdateRoomCAS writes every column of r only if the stored version still
// equals prevVersion. r.Version must already hold the new version.
func UpdateRoomCAS(ctx context.Context, db *gorm.DB, r *domain.Room, prevVersion int64) error {
	res := db.WithContext(ctx).
		Model(r).
		Where("version = ?", prevVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// ErrRoomNotMatched is returned by TouchMatchedRoom when the room exists but
// is not matched.
var ErrRoomNotMatched = errors.New("room not matched")

// TouchMatchedRoom bumps the version of a matched room. Run inside the
// transaction that writes a message, it orders the message against any
// concurrent room update.
func TouchMatchedRoom(ctx context.Context, db *gorm.DB, roomID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ? AND status = ?", roomID, domain.StatusMatched).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := GetRoom(ctx, db, roomID); err != nil {
		return err
	}
	return ErrRoomNotMatched
}

// GetProfile fetches a learner profile by user ID, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProfile inserts or fully replaces a learner profile.
func UpsertProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(p).Error
}
