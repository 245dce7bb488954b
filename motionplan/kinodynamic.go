// Package motionplan implements a risk-aware kinodynamic A* search over
// motion primitives. The search consumes a spatio-temporal risk field and
// produces a short path of position/velocity nodes with fixed time spacing,
// terminating at the goal or at the closest reachable approach to it.
package motionplan

import (
	"container/heap"
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/siyuanwu99/RAST-corridor-planning/riskmap"
)

// RiskField is the planner's read-only view of the environment: an inflated
// occupancy query at a world position and a continuous future time.
type RiskField interface {
	OccupancyAtTime(pos r3.Vector, t float64) riskmap.Occupancy
}

// Planner runs kinodynamic A* searches. It is stateless between calls except
// for precomputed motion primitives; each Plan call owns a fresh node arena.
type Planner struct {
	opts    Options
	logger  golog.Logger
	samples []r3.Vector
}

// NewPlanner validates the options and precomputes the acceleration samples
// spanned by the motion primitives.
func NewPlanner(opts Options, logger golog.Logger) (*Planner, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid search options")
	}
	p := &Planner{opts: opts, logger: logger}
	p.samples = accelerationSamples(opts)
	return p, nil
}

func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func accelerationSamples(opts Options) []r3.Vector {
	xs := linspace(-opts.MaxAccXY, opts.MaxAccXY, opts.AccSamples)
	zs := []float64{0}
	if opts.SampleZ {
		zs = linspace(-opts.MaxAccZ, opts.MaxAccZ, opts.AccSamples)
	}
	samples := make([]r3.Vector, 0, len(xs)*len(xs)*len(zs))
	for _, ax := range xs {
		for _, ay := range xs {
			for _, az := range zs {
				samples = append(samples, r3.Vector{X: ax, Y: ay, Z: az})
			}
		}
	}
	return samples
}

// gridKey discretizes a search state for duplicate detection.
type gridKey struct {
	xi, yi, zi    int32
	vxi, vyi, vzi int32
	step          int32
}

const (
	posGridRes = 0.2
	velGridRes = 0.5
)

func keyOf(pos, vel r3.Vector, step int) gridKey {
	return gridKey{
		xi:   int32(math.Round(pos.X / posGridRes)),
		yi:   int32(math.Round(pos.Y / posGridRes)),
		zi:   int32(math.Round(pos.Z / posGridRes)),
		vxi:  int32(math.Round(vel.X / velGridRes)),
		vyi:  int32(math.Round(vel.Y / velGridRes)),
		vzi:  int32(math.Round(vel.Z / velGridRes)),
		step: int32(step),
	}
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Plan searches from start toward goal over the risk field, with primitives
// beginning at startTime on the field's time axis. refHeading biases the
// first segment toward the previous cycle's direction; pass NaN when there is
// no previous cycle. The returned path always includes the start node; if the
// goal is unreachable within the expansion budget the path ends at the
// closest approach found.
func (p *Planner) Plan(
	ctx context.Context,
	start State,
	goal r3.Vector,
	startTime float64,
	refHeading float64,
	field RiskField,
) ([]Node, error) {
	opts := p.opts
	if occ := field.OccupancyAtTime(start.Pos, startTime); occ == riskmap.Occupied {
		return nil, ErrStartBlocked
	}

	arena := newNodeArena(opts.MaxExpansions)
	root := arena.alloc(searchNode{
		pos:    start.Pos,
		vel:    clampVelocity(start.Vel, opts),
		step:   0,
		g:      0,
		f:      p.heuristic(start.Pos, goal),
		parent: nilHandle,
	})

	open := &openHeap{arena: arena, handles: make([]nodeHandle, 0, 512)}
	heap.Init(open)
	heap.Push(open, root)

	visited := make(map[gridKey]struct{}, opts.MaxExpansions)
	visited[keyOf(start.Pos, start.Vel, 0)] = struct{}{}

	best := root
	bestDist := start.Pos.Sub(goal).Norm()

	expansions := 0
	for open.Len() > 0 {
		if expansions%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if expansions >= opts.MaxExpansions {
			break
		}
		expansions++

		cur := heap.Pop(open).(nodeHandle)
		curNode := arena.at(cur)
		if curNode.closed {
			continue
		}
		curNode.closed = true

		if curNode.pos.Sub(goal).Norm() < opts.GoalTolerance {
			return arena.extractPath(cur, startTime, opts.TimeStep), nil
		}

		for _, acc := range p.samples {
			succ, ok := p.expand(curNode, acc, startTime, field)
			if !ok {
				continue
			}
			key := keyOf(succ.pos, succ.vel, succ.step)
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}

			succ.parent = cur
			succ.f = succ.g + p.heuristic(succ.pos, goal)
			if curNode.parent == nilHandle && !math.IsNaN(refHeading) {
				// Tie-break toward the previous cycle's first segment so
				// consecutive replans stay coherent.
				d := succ.pos.Sub(curNode.pos)
				if math.Hypot(d.X, d.Y) > 1e-3 {
					dev := wrapAngle(math.Atan2(d.Y, d.X) - refHeading)
					succ.f += opts.RefHeadingWeight * math.Abs(dev)
				}
			}

			h := arena.alloc(succ)
			heap.Push(open, h)

			if d := succ.pos.Sub(goal).Norm(); d < bestDist {
				bestDist = d
				best = h
			}
			// curNode may have moved; re-resolve the pointer after alloc.
			curNode = arena.at(cur)
		}
	}

	path := arena.extractPath(best, startTime, opts.TimeStep)
	if len(path) <= 1 {
		return nil, ErrNoPath
	}
	p.logger.Debugw("search ended at closest approach",
		"expansions", expansions, "distance_to_goal", bestDist)
	return path, nil
}

// expand integrates one motion primitive from a node, rejecting it when the
// resulting state exceeds dynamic or height limits or when its swept path
// crosses occupied or out-of-window space.
func (p *Planner) expand(from *searchNode, acc r3.Vector, startTime float64, field RiskField) (searchNode, bool) {
	opts := p.opts
	dt := opts.TimeStep

	vel := from.vel.Add(acc.Mul(dt))
	if math.Abs(vel.X) > opts.MaxVelXY || math.Abs(vel.Y) > opts.MaxVelXY || math.Abs(vel.Z) > opts.MaxVelZ {
		return searchNode{}, false
	}
	pos := from.pos.Add(from.vel.Mul(dt)).Add(acc.Mul(0.5 * dt * dt))
	if opts.UseHeightLimit && (pos.Z < opts.HeightMin || pos.Z > opts.HeightMax) {
		return searchNode{}, false
	}

	baseT := startTime + float64(from.step)*dt
	for j := 1; j <= opts.CheckSteps; j++ {
		tau := dt * float64(j) / float64(opts.CheckSteps)
		pt := from.pos.Add(from.vel.Mul(tau)).Add(acc.Mul(0.5 * tau * tau))
		if field.OccupancyAtTime(pt, baseT+tau) != riskmap.Free {
			return searchNode{}, false
		}
	}

	return searchNode{
		pos:  pos,
		vel:  vel,
		step: from.step + 1,
		g:    from.g + dt + opts.ControlWeight*acc.Norm2()*dt,
	}, true
}

func (p *Planner) heuristic(pos, goal r3.Vector) float64 {
	return pos.Sub(goal).Norm() / p.opts.MaxVelXY
}

func clampVelocity(v r3.Vector, opts Options) r3.Vector {
	clamp := func(x, lim float64) float64 {
		if x > lim {
			return lim
		}
		if x < -lim {
			return -lim
		}
		return x
	}
	return r3.Vector{
		X: clamp(v.X, opts.MaxVelXY),
		Y: clamp(v.Y, opts.MaxVelXY),
		Z: clamp(v.Z, opts.MaxVelZ),
	}
}
