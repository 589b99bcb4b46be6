// Package repo persists rooms, messages and profiles in SQLite through GORM.
// Free functions take a *gorm.DB so they compose inside transactions; Store
// adapts them to store.RoomStore.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// Pragmas go in the DSN so every pooled connection gets them, not just the
// first one. busy_timeout makes writers queue briefly instead of failing
// straight into the CAS retry loop.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
}

// OpenOptions tunes OpenSQLite. The zero value is usable.
type OpenOptions struct {
	Logger        *zerolog.Logger // nil logs through the global logger
	SlowThreshold time.Duration   // <= 0 means 200ms
	MaxOpenConns  int             // <= 0 means 10
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range sqlitePragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// OpenSQLite opens (or creates) the database at path with query logging
// through zerolog and one OpenTelemetry span per statement.
func OpenSQLite(path string, opts OpenOptions) (*gorm.DB, error) {
	// A missing parent directory otherwise surfaces as an opaque sqlite error.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: newQueryLogger(opts.Logger, opts.SlowThreshold),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	conns := opts.MaxOpenConns
	if conns <= 0 {
		conns = 10
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates the rooms, messages and profiles tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Room{},
		&domain.Message{},
		&domain.Profile{},
	)
}

// Ping checks the underlying connection pool.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
