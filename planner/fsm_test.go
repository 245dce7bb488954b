package planner

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/siyuanwu99/RAST-corridor-planning/msgs"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

type fakePipe struct {
	goal      r3.Vector
	pos       r3.Vector
	fresh     bool
	planErr   error
	planCalls int
	traj      *trajectory.Trajectory
}

func (f *fakePipe) SetGoal(goal r3.Vector)          { f.goal = goal }
func (f *fakePipe) Trajectory() *trajectory.Trajectory { return f.traj }
func (f *fakePipe) Pos() r3.Vector                  { return f.pos }
func (f *fakePipe) InputsFresh(time.Time) bool      { return f.fresh }

func (f *fakePipe) Plan(context.Context) error {
	f.planCalls++
	if f.planErr != nil {
		return f.planErr
	}
	f.traj = hoverTraj()
	return nil
}

func hoverTraj() *trajectory.Trajectory {
	ctrl := make([]r3.Vector, trajectory.DefaultOrder+1)
	for i := range ctrl {
		ctrl[i] = r3.Vector{Z: 1}
	}
	return &trajectory.Trajectory{Pieces: []trajectory.Piece{{Duration: 1, Ctrl: ctrl}}}
}

type fakePub struct {
	published []msgs.TrajectoryMsg
	broadcast []msgs.TrajectoryMsg
}

func (f *fakePub) PublishTrajectory(m msgs.TrajectoryMsg)   { f.published = append(f.published, m) }
func (f *fakePub) BroadcastTrajectory(m msgs.TrajectoryMsg) { f.broadcast = append(f.broadcast, m) }

func testFSM(t *testing.T) (*FSM, *fakePipe, *fakePub, *clock.Mock) {
	t.Helper()
	pipe := &fakePipe{fresh: true}
	pub := &fakePub{}
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	f := newFSMWithClock(DefaultConfig(), pipe, pub, golog.NewTestLogger(t), mock)
	return f, pipe, pub, mock
}

func TestInitTransitionsUnconditionally(t *testing.T) {
	f, pipe, _, _ := testFSM(t)
	pipe.fresh = false

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)

	// Without fresh inputs a queued goal stays parked.
	f.Trigger(r3.Vector{X: 2, Z: 1})
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)
}

func TestTriggerDefaultAltitude(t *testing.T) {
	f, pipe, _, _ := testFSM(t)
	f.state = StateWaitTarget

	f.Trigger(r3.Vector{X: 2})
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateReplan)
	test.That(t, pipe.goal.Z, test.ShouldEqual, f.cfg.DefaultAltitude)
}

func TestTriggerOneShot(t *testing.T) {
	f, _, _, _ := testFSM(t)
	f.state = StateExecTraj
	f.goalSet = true
	f.goal = r3.Vector{X: 5, Z: 1}

	// Re-triggering the active goal mid-mission is a no-op.
	f.Trigger(r3.Vector{X: 5, Z: 1})
	test.That(t, len(f.waypoints), test.ShouldEqual, 0)

	// Within tolerance of the active goal still counts as a duplicate.
	f.Trigger(r3.Vector{X: 5.2, Z: 1})
	test.That(t, len(f.waypoints), test.ShouldEqual, 0)

	// A genuinely distinct goal is queued, once.
	f.Trigger(r3.Vector{X: 10, Z: 1})
	f.Trigger(r3.Vector{X: 10, Z: 1})
	test.That(t, len(f.waypoints), test.ShouldEqual, 1)
}

func TestFirstPlanPublishes(t *testing.T) {
	f, pipe, pub, _ := testFSM(t)
	f.state = StateWaitTarget
	f.Trigger(r3.Vector{X: 5, Z: 1})

	f.tick(context.Background()) // WaitTarget -> Replan
	f.tick(context.Background()) // Replan -> ExecTraj, publish

	test.That(t, f.State(), test.ShouldEqual, StateExecTraj)
	test.That(t, pipe.planCalls, test.ShouldEqual, 1)
	test.That(t, len(pub.published), test.ShouldEqual, 1)
	test.That(t, len(pub.broadcast), test.ShouldEqual, 1)
	test.That(t, pub.published[0].TrajID, test.ShouldEqual, 1)
}

func TestReplanPeriod(t *testing.T) {
	f, _, _, mock := testFSM(t)
	f.state = StateExecTraj
	f.goalSet = true
	f.goal = r3.Vector{X: 5, Z: 1}
	f.lastReplan = mock.Now()

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateExecTraj)

	mock.Add(f.cfg.ReplanPeriod + time.Millisecond)
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateReplan)
}

func TestReplanGoalReachedWithoutPublish(t *testing.T) {
	f, pipe, pub, _ := testFSM(t)
	f.state = StateReplan
	f.goalSet = true
	f.goal = r3.Vector{X: 5, Z: 1}
	pipe.pos = r3.Vector{X: 4.8, Z: 1} // inside goal tolerance

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateGoalReached)
	test.That(t, pipe.planCalls, test.ShouldEqual, 0)
	test.That(t, len(pub.published), test.ShouldEqual, 0)
}

func TestReplanFailureKeepsTrajectory(t *testing.T) {
	f, pipe, pub, _ := testFSM(t)
	f.state = StateReplan
	f.goalSet = true
	f.goal = r3.Vector{X: 5, Z: 1}
	f.trajID = 3
	pipe.planErr = errors.New("search failed")

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateReplan)
	test.That(t, pipe.planCalls, test.ShouldEqual, 1)
	test.That(t, len(pub.published), test.ShouldEqual, 0)
	test.That(t, f.trajID, test.ShouldEqual, 3)

	// Recovery on a later tick resumes execution.
	pipe.planErr = nil
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateExecTraj)
	test.That(t, pub.published[0].TrajID, test.ShouldEqual, 4)
}

func TestStaleInputsParkWithoutClearingGoal(t *testing.T) {
	f, pipe, _, _ := testFSM(t)
	f.state = StateExecTraj
	f.goalSet = true
	f.goal = r3.Vector{X: 5, Z: 1}
	pipe.fresh = false

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)
	test.That(t, f.goalSet, test.ShouldBeTrue)

	// Flight resumes with the same goal once inputs return.
	pipe.fresh = true
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateReplan)
}

func TestGoalReachedPopsNextWaypoint(t *testing.T) {
	f, pipe, _, _ := testFSM(t)
	f.state = StateGoalReached
	f.goalSet = true
	f.waypoints = []r3.Vector{{X: 3, Z: 1}, {X: 6, Z: 1}}

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)
	test.That(t, f.goalSet, test.ShouldBeFalse)

	// The next waypoint is picked up on the following tick.
	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateReplan)
	test.That(t, pipe.goal, test.ShouldResemble, r3.Vector{X: 3, Z: 1})
	test.That(t, len(f.waypoints), test.ShouldEqual, 1)
}

func TestGoalReachedIdlesWithoutWaypoints(t *testing.T) {
	f, _, _, _ := testFSM(t)
	f.state = StateGoalReached
	f.goalSet = true

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)
	test.That(t, f.goalSet, test.ShouldBeFalse)

	f.tick(context.Background())
	test.That(t, f.State(), test.ShouldEqual, StateWaitTarget)
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateInit:            "INIT",
		StateWaitTarget:      "WAIT_TARGET",
		StateNewPlan:         "NEW_PLAN",
		StateReplan:          "REPLAN",
		StateExecTraj:        "EXEC_TRAJ",
		StateEmergencyReplan: "EMERGENCY_REPLAN",
		StateGoalReached:     "GOAL_REACHED",
		StateExit:            "EXIT",
	}
	for s, want := range names {
		test.That(t, s.String(), test.ShouldEqual, want)
	}
	test.That(t, State(99).String(), test.ShouldEqual, "UNKNOWN")
}

func TestStartClose(t *testing.T) {
	f, pipe, _, mock := testFSM(t)
	pipe.fresh = true

	f.Start()
	mock.Add(f.cfg.TickPeriod * 3)
	f.Close()
	test.That(t, f.State(), test.ShouldEqual, StateExit)
}
