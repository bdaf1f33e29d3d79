package main

import (
	"fmt"

	"github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanpama/graphload/internal/batch"
	"github.com/hanpama/graphload/internal/catalog"
	"github.com/hanpama/graphload/internal/config"
	"github.com/hanpama/graphload/internal/cursor"
	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/query"
)

var logLevels = map[string]abstractlogger.Level{
	"debug": abstractlogger.DebugLevel,
	"info":  abstractlogger.InfoLevel,
	"warn":  abstractlogger.WarnLevel,
	"error": abstractlogger.ErrorLevel,
}

// newLogger builds the zap logger behind the abstractlogger handed to every
// package. Callers sync the returned zap logger on exit.
func newLogger(c config.Log) (abstractlogger.Logger, *zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return abstractlogger.NewZapLogger(zl, logLevels[c.Level]), zl, nil
}

// newRegistry builds a registry with the configured page limits and, when
// a secret is set, a cursor codec.
func newRegistry(cfg config.Config) (*query.Registry, error) {
	opts := []query.Option{query.WithLimits(cfg.QueryLimits())}
	if cfg.Cursor.Secret != "" {
		codec, err := cursor.NewCodec([]byte(cfg.Cursor.Secret))
		if err != nil {
			return nil, err
		}
		opts = append(opts, query.WithCodec(codec))
	}
	return query.NewRegistry(opts...), nil
}

// newExecutor registers the catalog over fetch and builds its executor.
func newExecutor(cfg config.Config, fetch query.FetchFunc, log abstractlogger.Logger) (*executor.Executor, error) {
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if err := catalog.Register(reg, fetch); err != nil {
		return nil, err
	}
	sch, err := catalog.Schema(reg.Limits())
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return executor.New(sch, reg,
		executor.WithLimits(cfg.GuardLimits()),
		executor.WithMaxTicks(cfg.Limits.MaxTicks),
		executor.WithParallelism(cfg.Limits.Parallelism),
		executor.WithLogger(log),
		executor.WithBatchOptions(
			batch.WithMaxBatchKeys(cfg.Limits.MaxBatchKeys),
			batch.WithConcurrency(cfg.Limits.FlushConcurrency),
			batch.WithLogger(log),
		),
	), nil
}
