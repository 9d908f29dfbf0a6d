package database

import (
	"context"
	"errors"
	"time"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Logger routes gorm's query log into the request-scoped zerolog logger.
type Logger struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewLogger returns a gorm logger that reports errors and slow queries.
func NewLogger(slowThreshold time.Duration) *Logger {
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &Logger{level: logger.Warn, slowThreshold: slowThreshold}
}

func (g *Logger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *Logger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Info {
		l := log.Ctx(ctx)
		l.Info().Msgf(msg, args...)
	}
}

func (g *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Warn {
		l := log.Ctx(ctx)
		l.Warn().Msgf(msg, args...)
	}
}

func (g *Logger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Error {
		l := log.Ctx(ctx)
		l.Error().Msgf(msg, args...)
	}
}

func (g *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	l := log.Ctx(ctx)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, rows := fc()
		l.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query failed")
	case elapsed > g.slowThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		l.Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("slow query")
	case g.level >= logger.Info:
		sql, rows := fc()
		l.Debug().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query")
	}
}
