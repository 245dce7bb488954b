package planner

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/siyuanwu99/RAST-corridor-planning/motionplan"
	"github.com/siyuanwu99/RAST-corridor-planning/riskmap"
	"github.com/siyuanwu99/RAST-corridor-planning/swarm"
)

var identity = quat.Number{Real: 1}

func testPipeline(t *testing.T) (*Planner, *riskmap.Map, *clock.Mock) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))

	m, err := riskmap.NewWithClock(riskmap.DefaultConfig(), logger, mock)
	test.That(t, err, test.ShouldBeNil)
	search, err := motionplan.NewPlanner(motionplan.DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	coord := swarm.NewWithClock(swarm.DefaultConfig(0), logger, mock)

	p, err := newPlannerWithClock(DefaultConfig(), m, search, coord, nil, logger, mock)
	test.That(t, err, test.ShouldBeNil)
	return p, m, mock
}

func TestSnapshotBeforeOdometry(t *testing.T) {
	p, _, _ := testPipeline(t)
	_, _, _, ok := p.snapshotOdometry()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPoseFiniteDifferenceVelocity(t *testing.T) {
	p, _, mock := testPipeline(t)
	stamp := mock.Now()

	p.UpdatePose(r3.Vector{Z: 1}, identity, stamp)
	p.UpdatePose(r3.Vector{X: 0.5, Z: 1}, identity, stamp.Add(500*time.Millisecond))

	pos, vel, _, ok := p.snapshotOdometry()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pos, test.ShouldResemble, r3.Vector{X: 0.5, Z: 1})
	test.That(t, vel.Sub(r3.Vector{X: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestDirectVelocityWins(t *testing.T) {
	p, _, mock := testPipeline(t)
	stamp := mock.Now()

	p.UpdateVelocity(r3.Vector{X: 2}, stamp)
	p.UpdatePose(r3.Vector{Z: 1}, identity, stamp)
	p.UpdatePose(r3.Vector{X: 0.1, Z: 1}, identity, stamp.Add(time.Second))

	// With a direct source the pose differencing must not overwrite it.
	_, vel, _, _ := p.snapshotOdometry()
	test.That(t, vel, test.ShouldResemble, r3.Vector{X: 2})
}

func TestAccelDeadZoneAndClamp(t *testing.T) {
	p, _, mock := testPipeline(t)
	stamp := mock.Now()

	p.UpdateVelocity(r3.Vector{}, stamp)
	// dv/dt = (0.1, 10, 0): x inside the dead zone, y far past the clamp.
	p.UpdateVelocity(r3.Vector{X: 0.1, Y: 10}, stamp.Add(time.Second))

	_, _, acc, _ := p.snapshotOdometry()
	test.That(t, acc.X, test.ShouldEqual, 0)
	test.That(t, acc.Y, test.ShouldEqual, p.cfg.MaxDiffAccel)
	test.That(t, acc.Z, test.ShouldEqual, 0)
}

func TestConditionAccel(t *testing.T) {
	test.That(t, conditionAccel(0.1, 0.2, 3), test.ShouldEqual, 0)
	test.That(t, conditionAccel(-0.19, 0.2, 3), test.ShouldEqual, 0)
	test.That(t, conditionAccel(1.5, 0.2, 3), test.ShouldEqual, 1.5)
	test.That(t, conditionAccel(5, 0.2, 3), test.ShouldEqual, 3)
	test.That(t, conditionAccel(-5, 0.2, 3), test.ShouldEqual, -3)
}

func TestInputsFresh(t *testing.T) {
	p, m, mock := testPipeline(t)
	now := mock.Now()
	test.That(t, p.InputsFresh(now), test.ShouldBeFalse)

	p.UpdatePose(r3.Vector{Z: 1}, identity, now)
	test.That(t, p.InputsFresh(now), test.ShouldBeFalse) // map never updated

	test.That(t, m.Update(&riskmap.Observation{}), test.ShouldBeNil)
	test.That(t, p.InputsFresh(now), test.ShouldBeTrue)

	mock.Add(p.cfg.StalenessTimeout + time.Second)
	test.That(t, p.InputsFresh(mock.Now()), test.ShouldBeFalse)
}
