package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenPostgres opens a Gorm PostgreSQL connection with retry and sane pooling
// defaults. SQL is logged at warn level outside production.
func OpenPostgres(ctx context.Context, dsn, appEnv string) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	logLevel := gormlogger.Silent
	if appEnv == "development" || appEnv == "test" {
		logLevel = gormlogger.Warn
	}

	b := defaultBackoff

	for attempt := 0; ; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormLogger{zap: logger.L(), level: logLevel},
			TranslateError: true,
		})
		if err == nil {
			break
		}
		if attempt >= b.maxRetries {
			return nil, fmt.Errorf("open postgres failed after retries: %w", err)
		}
		if err := b.wait(ctx, attempt); err != nil {
			return nil, fmt.Errorf("open postgres canceled: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db db() error: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctxPing); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return db, nil
}

type gormLogger struct {
	zap   *zap.Logger
	level gormlogger.LogLevel
}

func (l gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface { l.level = level; return l }

// Info, Warn and Error honour the level the connection was opened with; Trace
// logs through the request logger when ctx carries one.
func (l gormLogger) Info(ctx context.Context, s string, args ...any) {
	if l.level >= gormlogger.Info {
		l.from(ctx).Sugar().Infof(s, args...)
	}
}

func (l gormLogger) Warn(ctx context.Context, s string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.from(ctx).Sugar().Warnf(s, args...)
	}
}

func (l gormLogger) Error(ctx context.Context, s string, args ...any) {
	if l.level >= gormlogger.Error {
		l.from(ctx).Sugar().Errorf(s, args...)
	}
}

func (l gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlogger.Silent {
		return
	}
	sql, rows := fc()
	dur := time.Since(begin)
	log := l.from(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error("gorm query error", zap.Duration("duration", dur), zap.Int64("rows", rows), zap.String("sql", sql), zap.Error(err))
		return
	}
	log.Debug("gorm query", zap.Duration("duration", dur), zap.Int64("rows", rows), zap.String("sql", sql))
}

func (l gormLogger) from(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.zap
	}
	return logger.FromContext(ctx)
}

type backoff struct {
	maxRetries int
	delay      time.Duration
	maxDelay   time.Duration
}

var defaultBackoff = backoff{
	maxRetries: 5,
	delay:      500 * time.Millisecond,
	maxDelay:   5 * time.Second,
}

func (b backoff) nextDelay(attempt int) time.Duration {
	d := b.delay << attempt
	if d > b.maxDelay {
		return b.maxDelay
	}
	return d
}

func (b backoff) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.nextDelay(attempt)):
		return nil
	}
}
