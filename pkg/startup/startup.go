package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StartupStatus int

const (
	StartupStatusPending StartupStatus = iota
	StartupStatusStarted
	StartupStatusStopped
	StartupStatusFailed
)

// Dependency adapts plain functions to StartupDependency
type Dependency struct {
	Name     string
	Requires []string
	StartFn  func(ctx context.Context) error
	StopFn   func(ctx context.Context) error
}

func (d Dependency) GetName() string     { return d.Name }
func (d Dependency) DependsOn() []string { return d.Requires }

func (d Dependency) Start(ctx context.Context) error {
	if d.StartFn == nil {
		return nil
	}
	return d.StartFn(ctx)
}

func (d Dependency) Stop(ctx context.Context) error {
	if d.StopFn == nil {
		return nil
	}
	return d.StopFn(ctx)
}

// Startup starts dependencies in dependency order, retrying the whole pass with
// fibonacci backoff. Stop runs in reverse start order.
type Startup struct {
	dependencies map[string]StartupDependency
	order        []string
	started      []string
	logger       ectologger.Logger
	statuses     map[string]StartupStatus
	attempt      int
	maxAttempts  int
	backoffUnit  time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]StartupDependency),
		statuses:     make(map[string]StartupStatus),
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

// WithBackoffUnit scales the fibonacci wait between attempts
func (s *Startup) WithBackoffUnit(unit time.Duration) *Startup {
	s.backoffUnit = unit
	return s
}

func (s *Startup) AddDependency(dependency StartupDependency) {
	if _, ok := s.dependencies[dependency.GetName()]; !ok {
		s.order = append(s.order, dependency.GetName())
	}
	s.dependencies[dependency.GetName()] = dependency
}

func (s *Startup) Status(name string) StartupStatus {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	s.attempt = 0
	var lastErr error

	a, b := 1, 1
	for s.attempt < s.maxAttempts {
		s.attempt++
		s.logger.WithField("attempt", s.attempt).Infof("Beginning startup attempt %d", s.attempt)

		success := true
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.dependencies[name], map[string]bool{}); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, s.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if s.attempt >= s.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", s.attempt, lastErr)
		}

		waitTime := time.Duration(a) * s.backoffUnit
		s.logger.Infof("Retrying in %s (attempt %d/%d)", waitTime, s.attempt, s.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		a, b = b, a+b
	}

	return lastErr
}

func (s *Startup) startDependency(ctx context.Context, dependency StartupDependency, visiting map[string]bool) error {
	name := dependency.GetName()
	if s.statuses[name] == StartupStatusStarted {
		return nil
	}
	if visiting[name] {
		return fmt.Errorf("dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, dependencyName := range dependency.DependsOn() {
		required, ok := s.dependencies[dependencyName]
		if !ok {
			return fmt.Errorf("dependency '%s' requires unknown dependency '%s'", name, dependencyName)
		}
		if err := s.startDependency(ctx, required, visiting); err != nil {
			return err
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StartupStatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to start dependency '%s'", name)
		return err
	}
	s.statuses[name] = StartupStatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops every started dependency and returns the first error
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StartupStatusStarted {
			continue
		}

		s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = StartupStatusStopped
	}
	return firstErr
}
