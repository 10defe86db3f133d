package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// Schedule starts a workflow kind on a recurring basis, either on a standard
// five-field cron expression or at a fixed interval. Exactly one of Expr and
// Every must be set.
type Schedule struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
	Expr   string         `yaml:"cron"`
	Every  time.Duration  `yaml:"every"`
}

// UnmarshalYAML decodes a schedule, accepting Go duration strings such as
// "30m" for the every field.
func (s *Schedule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name   string         `yaml:"name"`
		Kind   string         `yaml:"kind"`
		Config map[string]any `yaml:"config"`
		Expr   string         `yaml:"cron"`
		Every  string         `yaml:"every"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Kind = raw.Kind
	s.Config = raw.Config
	s.Expr = raw.Expr
	if raw.Every != "" {
		d, err := time.ParseDuration(raw.Every)
		if err != nil {
			return fmt.Errorf("schedule %q: bad every duration: %w", raw.Name, err)
		}
		s.Every = d
	}
	return nil
}

// Validate checks that the schedule names a workflow kind and carries exactly
// one trigger.
func (s Schedule) Validate() error {
	if s.Kind == "" {
		return protocol.Errorf(protocol.CodeInvalidParams, "schedule %q has no workflow kind", s.Name)
	}
	if (s.Expr == "") == (s.Every == 0) {
		return protocol.Errorf(protocol.CodeInvalidParams,
			"schedule %q must set exactly one of cron and every", s.Name)
	}
	if s.Expr != "" {
		if _, err := cron.ParseStandard(s.Expr); err != nil {
			return protocol.Errorf(protocol.CodeInvalidParams,
				"schedule %q: bad cron expression %q: %v", s.Name, s.Expr, err)
		}
	}
	return nil
}

// NextRun returns the first firing time strictly after from.
func (s Schedule) NextRun(from time.Time) (time.Time, error) {
	if s.Expr != "" {
		expr, err := cron.ParseStandard(s.Expr)
		if err != nil {
			return time.Time{}, protocol.Errorf(protocol.CodeInvalidParams,
				"bad cron expression %q: %v", s.Expr, err)
		}
		return expr.Next(from), nil
	}
	if s.Every <= 0 {
		return time.Time{}, protocol.Errorf(protocol.CodeInvalidParams,
			"schedule %q has no trigger", s.Name)
	}
	return from.Add(s.Every), nil
}

// Scheduler drives recurring workflow starts against a coordinator. One
// goroutine per schedule; start failures are logged and do not stop the
// schedule.
type Scheduler struct {
	coord     *Coordinator
	schedules []Schedule

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewScheduler validates the schedules and creates a scheduler over them.
func NewScheduler(coord *Coordinator, schedules []Schedule) (*Scheduler, error) {
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &Scheduler{coord: coord, schedules: schedules}, nil
}

// Start launches the schedule loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, sched := range s.schedules {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, sched)
		}()
	}
}

// Stop halts all schedule loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sched Schedule) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		next, err := sched.NextRun(time.Now())
		if err != nil {
			log.Printf("scheduler: %s: %v", sched.Name, err)
			return
		}
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.coord.Start(ctx, sched.Kind, sched.Config); err != nil {
			log.Printf("scheduler: %s: start %s workflow: %v", sched.Name, sched.Kind, err)
		}
	}
}
