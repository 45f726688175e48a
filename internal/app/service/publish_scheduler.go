package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sifan077/PowerCMS/internal/app/model"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	defaultSweepSpec = "@every 1m"
	// MinSweepInterval bounds how often a sweep may run; publish time precision
	// is never better than the configured interval.
	MinSweepInterval = time.Second
)

// ErrSweepSpec signals a schedule expression that cannot drive the sweep.
var ErrSweepSpec = errors.New("invalid sweep schedule")

// PublishSchedulerDeps groups the scheduler's collaborators.
type PublishSchedulerDeps struct {
	Content  ContentService
	Logger   *zap.Logger
	Spec     string
	Location *time.Location
	Now      func() time.Time
}

// PublishScheduler periodically applies window boundary transitions to every
// resource type. Ticks never overlap; a tick still running when the next one is
// due causes that next tick to be skipped.
type PublishScheduler struct {
	content ContentService
	logger  *zap.Logger
	spec    string
	now     func() time.Time

	parser cron.Parser
	c      *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewPublishScheduler validates the schedule and builds a stopped scheduler.
func NewPublishScheduler(deps PublishSchedulerDeps) (*PublishScheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	spec := strings.TrimSpace(deps.Spec)
	if spec == "" {
		spec = defaultSweepSpec
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if err := ValidateSweepSpec(parser, spec); err != nil {
		return nil, err
	}

	cronLogger := cronZapLogger{l: logger.Named("cron")}
	s := &PublishScheduler{
		content: deps.Content,
		logger:  logger,
		spec:    spec,
		now:     now,
		parser:  parser,
	}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return s, nil
}

// ValidateSweepSpec rejects expressions that fire more often than MinSweepInterval.
func ValidateSweepSpec(parser cron.Parser, spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("%w %q: %w", ErrSweepSpec, spec, err)
	}
	// cron rounds sub-second intervals up silently; refuse them instead.
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrSweepSpec, spec, err)
		}
		if every < MinSweepInterval {
			return fmt.Errorf("%w %q: interval below %s", ErrSweepSpec, spec, MinSweepInterval)
		}
	}
	return nil
}

// Start runs one sweep immediately and then follows the schedule.
func (s *PublishScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("%w %q: %w", ErrSweepSpec, s.spec, err)
	}

	s.RunOnce(ctx)
	s.c.Start()
	s.started = true
	s.logger.Info("publish scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *PublishScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.c.Stop().Done()
	s.started = false
	s.logger.Info("publish scheduler stopped")
}

// RunOnce sweeps every resource type. Failures are logged and never stop the
// remaining resource types; the next tick retries from scratch.
func (s *PublishScheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	now := s.now()
	total := 0

	for _, rt := range model.ResourceTypes() {
		if ctx.Err() != nil {
			return total
		}
		n, err := s.content.Sweep(ctx, rt.Name, now)
		if err != nil {
			s.logger.Error("sweep failed",
				zap.String("resource", rt.Name),
				zap.Error(err),
			)
			continue
		}
		total += n
	}

	promx.SweepDuration.Observe(time.Since(start).Seconds())
	if total > 0 {
		s.logger.Info("sweep applied transitions",
			zap.Int("count", total),
			zap.Time("now", now),
		)
	}
	return total
}

// cronZapLogger adapts zap to cron.Logger.
type cronZapLogger struct {
	l *zap.Logger
}

func (c cronZapLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronZapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
