package planner

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	goutils "go.viam.com/utils"

	"github.com/siyuanwu99/RAST-corridor-planning/msgs"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

// State is the mission state of the planning loop.
type State int

const (
	StateInit State = iota
	StateWaitTarget
	StateNewPlan
	StateReplan
	StateExecTraj
	StateEmergencyReplan
	StateGoalReached
	StateExit
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitTarget:
		return "WAIT_TARGET"
	case StateNewPlan:
		return "NEW_PLAN"
	case StateReplan:
		return "REPLAN"
	case StateExecTraj:
		return "EXEC_TRAJ"
	case StateEmergencyReplan:
		return "EMERGENCY_REPLAN"
	case StateGoalReached:
		return "GOAL_REACHED"
	case StateExit:
		return "EXIT"
	}
	return "UNKNOWN"
}

// pipeline is what the FSM drives each cycle. *Planner satisfies it.
type pipeline interface {
	SetGoal(goal r3.Vector)
	Plan(ctx context.Context) error
	Trajectory() *trajectory.Trajectory
	Pos() r3.Vector
	InputsFresh(now time.Time) bool
}

// FSM ticks the planning pipeline on a fixed period and moves the mission
// through its states. All state mutation happens on the tick goroutine;
// Trigger only enqueues.
type FSM struct {
	cfg     Config
	logger  golog.Logger
	clk     clock.Clock
	pipe    pipeline
	trajPub msgs.TrajectoryPublisher

	mu        sync.Mutex
	state     State
	waypoints []r3.Vector

	goal        r3.Vector
	goalSet     bool
	trajID      int64
	lastReplan  time.Time
	replanFails int

	cancelCtx               context.Context
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewFSM builds the mission loop around an already-constructed pipeline.
func NewFSM(cfg Config, pipe pipeline, trajPub msgs.TrajectoryPublisher, logger golog.Logger) *FSM {
	return newFSMWithClock(cfg, pipe, trajPub, logger, clock.New())
}

func newFSMWithClock(
	cfg Config,
	pipe pipeline,
	trajPub msgs.TrajectoryPublisher,
	logger golog.Logger,
	clk clock.Clock,
) *FSM {
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &FSM{
		cfg:       cfg,
		logger:    logger.Named("fsm").With("session", uuid.NewString()),
		clk:       clk,
		pipe:      pipe,
		trajPub:   trajPub,
		state:     StateInit,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
}

// State returns the current mission state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Trigger enqueues a goal. A non-positive z is replaced with the default
// altitude. The trigger is one-shot: a goal within tolerance of the active
// goal or of an already queued waypoint is ignored and logged. Distinct
// goals received while a mission is active are queued and flown in order
// after the current goal is reached.
func (f *FSM) Trigger(goal r3.Vector) {
	if goal.Z <= 0 {
		goal.Z = f.cfg.DefaultAltitude
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.goalSet && goal.Sub(f.goal).Norm() < f.cfg.GoalTolerance {
		f.logger.Infow("trigger ignored, goal already active", "goal", goal)
		return
	}
	for _, wp := range f.waypoints {
		if goal.Sub(wp).Norm() < f.cfg.GoalTolerance {
			f.logger.Infow("trigger ignored, goal already queued", "goal", goal)
			return
		}
	}
	f.waypoints = append(f.waypoints, goal)
	f.logger.Infow("goal queued", "goal", goal, "pending", len(f.waypoints))
}

// Start launches the tick loop.
func (f *FSM) Start() {
	f.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		ticker := f.clk.Ticker(f.cfg.TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.cancelCtx.Done():
				return
			case <-ticker.C:
			}
			f.tick(f.cancelCtx)
		}
	}, f.activeBackgroundWorkers.Done)
}

// Close stops the tick loop and waits for it to exit.
func (f *FSM) Close() {
	f.cancel()
	f.activeBackgroundWorkers.Wait()
	f.mu.Lock()
	f.state = StateExit
	f.mu.Unlock()
}

func (f *FSM) tick(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clk.Now()
	prev := f.state

	switch f.state {
	case StateInit:
		f.state = StateWaitTarget

	case StateWaitTarget:
		if !f.goalSet && len(f.waypoints) > 0 {
			f.popWaypointLocked()
		}
		if f.goalSet && f.pipe.InputsFresh(now) {
			f.state = StateReplan
		}

	case StateExecTraj:
		if !f.pipe.InputsFresh(now) {
			// Inputs went stale mid-flight. Park without clearing the
			// goal so flight resumes when data returns.
			f.logger.Warnw("inputs stale during execution")
			f.state = StateWaitTarget
			break
		}
		if f.atGoalLocked() {
			f.state = StateGoalReached
			break
		}
		if now.Sub(f.lastReplan) >= f.cfg.ReplanPeriod {
			f.state = StateReplan
		}

	case StateReplan, StateNewPlan, StateEmergencyReplan:
		if !f.pipe.InputsFresh(now) {
			f.logger.Warnw("inputs stale while planning")
			f.state = StateWaitTarget
			break
		}
		if f.atGoalLocked() {
			f.state = StateGoalReached
			break
		}
		if err := f.pipe.Plan(ctx); err != nil {
			// Keep flying the previous trajectory and retry next tick.
			f.replanFails++
			f.logger.Warnw("replan failed", "error", err, "consecutive", f.replanFails)
			break
		}
		f.replanFails = 0
		f.publishLocked()
		f.lastReplan = now
		f.state = StateExecTraj

	case StateGoalReached:
		// The completed goal is dropped; the next queued waypoint is
		// picked up again from WAIT_TARGET.
		f.goalSet = false
		f.state = StateWaitTarget

	case StateExit:
	}

	if f.state != prev {
		f.logger.Infow("state transition", "from", prev.String(), "to", f.state.String())
	}
}

func (f *FSM) popWaypointLocked() {
	f.goal = f.waypoints[0]
	f.waypoints = f.waypoints[1:]
	f.goalSet = true
	f.pipe.SetGoal(f.goal)
	f.logger.Infow("goal set", "goal", f.goal)
}

func (f *FSM) atGoalLocked() bool {
	return f.pipe.Pos().Sub(f.goal).Norm() < f.cfg.GoalTolerance
}

func (f *FSM) publishLocked() {
	tr := f.pipe.Trajectory()
	if tr == nil {
		return
	}
	f.trajID++
	tr.ID = f.trajID
	msg := msgs.FromTrajectory(tr, f.clk.Now())
	if f.trajPub != nil {
		f.trajPub.PublishTrajectory(msg)
		f.trajPub.BroadcastTrajectory(msg)
	}
}
