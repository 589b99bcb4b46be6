package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// queryLogger routes GORM's logging into zerolog. Statements go to the
// logger on the request context when there is one, so slow queries carry
// the request id. Not-found lookups are expected on the matchmaking path
// and are not logged as errors.
type queryLogger struct {
	base  *zerolog.Logger
	slow  time.Duration
	level logger.LogLevel
}

func newQueryLogger(base *zerolog.Logger, slow time.Duration) *queryLogger {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &queryLogger{base: base, slow: slow, level: logger.Warn}
}

func (l *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *queryLogger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if lg := zerolog.Ctx(ctx); lg != zerolog.DefaultContextLogger && lg.GetLevel() != zerolog.Disabled {
			return lg
		}
	}
	if l.base != nil {
		return l.base
	}
	return &log.Logger
}

func (l *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.from(ctx).Info().Msgf(msg, args...)
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.from(ctx).Warn().Msgf(msg, args...)
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.from(ctx).Error().Msgf(msg, args...)
	}
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	lg := l.from(ctx)

	var ev *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		ev = lg.Error().Err(err)
	case elapsed > l.slow && l.level >= logger.Warn:
		ev = lg.Warn().Dur("threshold", l.slow)
	case l.level >= logger.Info:
		ev = lg.Debug()
	default:
		return
	}
	sql, rows := fc()
	ev.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("sql")
}
