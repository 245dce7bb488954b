package motionplan

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/siyuanwu99/RAST-corridor-planning/riskmap"
)

type fieldFunc func(pos r3.Vector, t float64) riskmap.Occupancy

func (f fieldFunc) OccupancyAtTime(pos r3.Vector, t float64) riskmap.Occupancy {
	return f(pos, t)
}

var freeField = fieldFunc(func(r3.Vector, float64) riskmap.Occupancy { return riskmap.Free })

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	p, err := NewPlanner(DefaultOptions(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestPlanStraightLine(t *testing.T) {
	p := testPlanner(t)
	start := State{Pos: r3.Vector{Z: 1}}
	goal := r3.Vector{X: 2, Z: 1}

	path, err := p.Plan(context.Background(), start, goal, 0, math.NaN(), freeField)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(path), test.ShouldBeGreaterThan, 1)
	test.That(t, path[0].Pos, test.ShouldResemble, start.Pos)
	test.That(t, path[len(path)-1].Pos.Sub(goal).Norm(), test.ShouldBeLessThan, p.opts.GoalTolerance)
}

func TestPlanRespectsDynamicLimits(t *testing.T) {
	p := testPlanner(t)
	start := State{Pos: r3.Vector{Z: 1}}
	goal := r3.Vector{X: 3, Y: 2, Z: 1}

	path, err := p.Plan(context.Background(), start, goal, 0, math.NaN(), freeField)
	test.That(t, err, test.ShouldBeNil)

	opts := p.opts
	for i, n := range path {
		test.That(t, math.Abs(n.Vel.X), test.ShouldBeLessThanOrEqualTo, opts.MaxVelXY)
		test.That(t, math.Abs(n.Vel.Y), test.ShouldBeLessThanOrEqualTo, opts.MaxVelXY)
		test.That(t, math.Abs(n.Vel.Z), test.ShouldBeLessThanOrEqualTo, opts.MaxVelZ)
		test.That(t, n.Time, test.ShouldAlmostEqual, float64(i)*opts.TimeStep, 1e-9)
		if i > 0 {
			dv := n.Vel.Sub(path[i-1].Vel).Mul(1 / opts.TimeStep)
			test.That(t, math.Abs(dv.X), test.ShouldBeLessThanOrEqualTo, opts.MaxAccXY+1e-9)
			test.That(t, math.Abs(dv.Y), test.ShouldBeLessThanOrEqualTo, opts.MaxAccXY+1e-9)
		}
	}
}

func TestPlanAvoidsObstacle(t *testing.T) {
	p := testPlanner(t)
	inSlab := func(pos r3.Vector) bool {
		return pos.X > 0.8 && pos.X < 1.2 && math.Abs(pos.Y) < 1.0
	}
	field := fieldFunc(func(pos r3.Vector, _ float64) riskmap.Occupancy {
		if inSlab(pos) {
			return riskmap.Occupied
		}
		return riskmap.Free
	})

	start := State{Pos: r3.Vector{Z: 1}}
	goal := r3.Vector{X: 2, Z: 1}
	path, err := p.Plan(context.Background(), start, goal, 0, math.NaN(), field)
	test.That(t, err, test.ShouldBeNil)
	for _, n := range path {
		test.That(t, inSlab(n.Pos), test.ShouldBeFalse)
	}
}

func TestPlanStartBlocked(t *testing.T) {
	p := testPlanner(t)
	field := fieldFunc(func(r3.Vector, float64) riskmap.Occupancy { return riskmap.Occupied })

	_, err := p.Plan(context.Background(), State{Pos: r3.Vector{Z: 1}}, r3.Vector{X: 2, Z: 1}, 0, math.NaN(), field)
	test.That(t, err, test.ShouldBeError, ErrStartBlocked)
}

func TestPlanNoPath(t *testing.T) {
	p := testPlanner(t)
	start := r3.Vector{Z: 1}
	// Free only in a bubble too small to leave.
	field := fieldFunc(func(pos r3.Vector, _ float64) riskmap.Occupancy {
		if pos.Sub(start).Norm() < 0.05 {
			return riskmap.Free
		}
		return riskmap.Occupied
	})

	_, err := p.Plan(context.Background(), State{Pos: start}, r3.Vector{X: 3, Z: 1}, 0, math.NaN(), field)
	test.That(t, err, test.ShouldBeError, ErrNoPath)
}

func TestPlanCanceled(t *testing.T) {
	p := testPlanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Plan(ctx, State{Pos: r3.Vector{Z: 1}}, r3.Vector{X: 4, Z: 1}, 0, math.NaN(), freeField)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestPlanClosestApproach(t *testing.T) {
	p := testPlanner(t)
	// A wall the planner cannot cross: the path should still make progress
	// toward the goal and stop short of the wall.
	field := fieldFunc(func(pos r3.Vector, _ float64) riskmap.Occupancy {
		if pos.X > 1.5 {
			return riskmap.Occupied
		}
		return riskmap.Free
	})

	start := State{Pos: r3.Vector{Z: 1}}
	goal := r3.Vector{X: 4, Z: 1}
	path, err := p.Plan(context.Background(), start, goal, 0, math.NaN(), field)
	test.That(t, err, test.ShouldBeNil)

	last := path[len(path)-1].Pos
	test.That(t, last.X, test.ShouldBeGreaterThan, 0.5)
	test.That(t, last.X, test.ShouldBeLessThanOrEqualTo, 1.5)
}

func TestOptionsValidate(t *testing.T) {
	test.That(t, DefaultOptions().Validate(), test.ShouldBeNil)

	bad := DefaultOptions()
	bad.TimeStep = 0
	bad.MaxVelXY = -1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}
