// Package schedule runs per-server cron schedules that issue power actions
// or console commands.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"hearth/api/daemon"
	"hearth/api/model"
	"hearth/api/store"
)

// Runner performs a scheduled action. The lifecycle orchestrator is one.
type Runner interface {
	Power(ctx context.Context, actor model.Actor, serverID, action string) error
	SendCommand(ctx context.Context, actor model.Actor, serverID, command string) error
}

// systemActor runs schedules; the user's rights were checked when the
// schedule was saved.
var systemActor = model.Actor{UserID: "schedule", Admin: true}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Scheduler struct {
	cron    *cron.Cron
	store   *store.Store
	runner  Runner
	entries map[string]cron.EntryID // schedule id -> cron entry
	mu      sync.Mutex
	Timeout time.Duration
}

func New(s *store.Store, runner Runner) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		store:   s,
		runner:  runner,
		entries: make(map[string]cron.EntryID),
		Timeout: 30 * time.Second,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("schedule: scheduler started")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("schedule: scheduler stopped")
}

// Load registers every enabled schedule in the store.
func (s *Scheduler) Load(ctx context.Context) error {
	all, err := s.store.Schedules.List(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range all {
		s.addOrUpdate(&all[i])
	}
	log.Printf("schedule: loaded %d schedules", len(s.entries))
	return nil
}

func Validate(sc *model.Schedule) error {
	if sc.Name == "" {
		return &model.ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := parser.Parse(sc.Cron); err != nil {
		return &model.ValidationError{Field: "cron", Reason: err.Error()}
	}
	switch sc.Action {
	case model.ScheduleActionPower:
		if !daemon.ValidPowerAction(sc.Payload) {
			return &model.ValidationError{Field: "payload", Reason: "must be one of start, stop, restart, kill"}
		}
	case model.ScheduleActionCommand:
		if sc.Payload == "" {
			return &model.ValidationError{Field: "payload", Reason: "command required"}
		}
	default:
		return &model.ValidationError{Field: "action", Reason: "must be power or command"}
	}
	return nil
}

// addOrUpdate must be called with s.mu held.
func (s *Scheduler) addOrUpdate(sc *model.Schedule) {
	if id, ok := s.entries[sc.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, sc.ID)
	}
	if !sc.Enabled {
		return
	}
	scheduleID := sc.ID
	id, err := s.cron.AddFunc(sc.Cron, func() { s.execute(scheduleID) })
	if err != nil {
		log.Printf("schedule: failed to schedule %s with '%s': %v", sc.ID, sc.Cron, err)
		return
	}
	s.entries[sc.ID] = id
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// NextRun reports when the schedule fires next, zero if it is not active.
func (s *Scheduler) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(entry).Next
}

func (s *Scheduler) authorize(ctx context.Context, actor model.Actor, serverID, perm string) (*model.Server, error) {
	srv, err := s.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", serverID, err)
	}
	if !srv.Permits(actor, perm) {
		return nil, &model.PermissionDenied{Permission: perm}
	}
	return srv, nil
}

func (s *Scheduler) List(ctx context.Context, actor model.Actor, serverID string) ([]model.Schedule, error) {
	if _, err := s.authorize(ctx, actor, serverID, model.PermScheduleRead); err != nil {
		return nil, err
	}
	return s.store.SchedulesForServer(ctx, serverID)
}

func (s *Scheduler) Create(ctx context.Context, actor model.Actor, serverID string, sc model.Schedule) (*model.Schedule, error) {
	if _, err := s.authorize(ctx, actor, serverID, model.PermScheduleCreate); err != nil {
		return nil, err
	}
	if err := Validate(&sc); err != nil {
		return nil, err
	}
	sc.ID = uuid.NewString()
	sc.ServerID = serverID
	sc.LastRunAt = nil
	sc.CreatedAt = time.Now().UTC()
	if err := s.store.Schedules.Insert(ctx, &sc); err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	s.mu.Lock()
	s.addOrUpdate(&sc)
	s.mu.Unlock()
	return &sc, nil
}

func (s *Scheduler) Update(ctx context.Context, actor model.Actor, serverID string, next model.Schedule) (*model.Schedule, error) {
	if _, err := s.authorize(ctx, actor, serverID, model.PermScheduleEdit); err != nil {
		return nil, err
	}
	cur, err := s.owned(ctx, serverID, next.ID)
	if err != nil {
		return nil, err
	}
	if err := Validate(&next); err != nil {
		return nil, err
	}
	next.ServerID = cur.ServerID
	next.CreatedAt = cur.CreatedAt
	next.LastRunAt = cur.LastRunAt
	if err := s.store.Schedules.Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("save schedule %s: %w", next.ID, err)
	}
	s.mu.Lock()
	s.addOrUpdate(&next)
	s.mu.Unlock()
	return &next, nil
}

func (s *Scheduler) Delete(ctx context.Context, actor model.Actor, serverID, id string) error {
	if _, err := s.authorize(ctx, actor, serverID, model.PermScheduleDelete); err != nil {
		return err
	}
	if _, err := s.owned(ctx, serverID, id); err != nil {
		return err
	}
	s.remove(id)
	return s.store.Schedules.Delete(ctx, id)
}

// Trigger runs a schedule immediately and reports the outcome.
func (s *Scheduler) Trigger(ctx context.Context, actor model.Actor, serverID, id string) error {
	if _, err := s.authorize(ctx, actor, serverID, model.PermScheduleEdit); err != nil {
		return err
	}
	sc, err := s.owned(ctx, serverID, id)
	if err != nil {
		return err
	}
	return s.run(ctx, sc)
}

func (s *Scheduler) owned(ctx context.Context, serverID, id string) (*model.Schedule, error) {
	sc, err := s.store.Schedules.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", id, err)
	}
	if sc.ServerID != serverID {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrNotFound)
	}
	return sc, nil
}

func (s *Scheduler) execute(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	sc, err := s.store.Schedules.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		s.remove(id)
		return
	} else if err != nil {
		log.Printf("schedule: load %s: %v", id, err)
		return
	}
	if !sc.Enabled {
		s.remove(id)
		return
	}
	if err := s.run(ctx, sc); err != nil {
		log.Printf("schedule: %s (%s) on %s failed: %v", sc.Name, sc.ID, sc.ServerID, err)
	}
}

func (s *Scheduler) run(ctx context.Context, sc *model.Schedule) error {
	var err error
	switch sc.Action {
	case model.ScheduleActionPower:
		err = s.runner.Power(ctx, systemActor, sc.ServerID, sc.Payload)
	case model.ScheduleActionCommand:
		err = s.runner.SendCommand(ctx, systemActor, sc.ServerID, sc.Payload)
	default:
		err = fmt.Errorf("unknown action %q", sc.Action)
	}

	now := time.Now().UTC()
	sc.LastRunAt = &now
	if serr := s.store.Schedules.Update(ctx, sc); serr != nil {
		log.Printf("schedule: record run of %s: %v", sc.ID, serr)
	}
	return err
}
