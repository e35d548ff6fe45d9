// Package flusher periodically flushes the store when per-write flushing is
// disabled, bounding the window of unflushed writes.
package flusher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/clock"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Store is the flushable surface the service drives.
	Store interface {
		Flush() error
	}
	// Metrics observes flush outcomes.
	Metrics interface {
		ObserveFlush(err error, started time.Time)
	}
)

// Service flushes the store on a fixed interval until its context ends.
type Service struct {
	logger   *zap.Logger
	store    Store
	metrics  Metrics
	sleep    func(context.Context, time.Duration) error
	interval time.Duration
}

// New builds a Service with dependencies.
func New(store Store, metrics Metrics, interval time.Duration, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if metrics == nil {
		return nil, errors.New("flusher metrics is required")
	}
	if interval <= 0 {
		return nil, errors.New("flush interval must be positive")
	}

	return &Service{
		logger:   logger.Named("flusher"),
		store:    store,
		metrics:  metrics,
		sleep:    clock.SleepWithContext,
		interval: interval,
	}, nil
}

// Run flushes on the interval until the context is canceled. Flush errors
// are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}

		started := time.Now()
		err := s.store.Flush()
		s.metrics.ObserveFlush(err, started)
		if err != nil {
			s.logger.Error("flush failed", zap.Error(err))
		}
	}
}
