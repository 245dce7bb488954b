// Package planner orchestrates the planning pipeline: risk map in, searched
// path to corridors to optimized trajectory out, under a periodic finite
// state machine.
package planner

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/num/quat"

	"github.com/siyuanwu99/RAST-corridor-planning/corridor"
	"github.com/siyuanwu99/RAST-corridor-planning/motionplan"
	"github.com/siyuanwu99/RAST-corridor-planning/msgs"
	"github.com/siyuanwu99/RAST-corridor-planning/riskmap"
	"github.com/siyuanwu99/RAST-corridor-planning/swarm"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
	"github.com/siyuanwu99/RAST-corridor-planning/trajopt"
)

// maxPathSegments rejects absurdly long search results for a short-horizon
// replan.
const maxPathSegments = 10

// Planner runs one planning cycle end to end. It owns the risk map reads,
// the kinodynamic search, corridor extraction, trajectory optimization and
// the swarm deconfliction check.
type Planner struct {
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	riskMap *riskmap.Map
	search  *motionplan.Planner
	opt     *trajopt.Optimizer
	coord   *swarm.Coordinator

	corridorPub msgs.CorridorPublisher

	// Odometry shared with message callbacks, guarded by stateBusy.
	stateBusy        atomic.Bool
	odomPos          r3.Vector
	odomVel          r3.Vector
	odomAcc          r3.Vector
	odomAtt          quat.Number
	odomReceived     bool
	velocityReceived bool
	lastOdomTime     time.Time
	prevPos          r3.Vector
	prevPosTime      time.Time
	posInit          bool
	prevVel          r3.Vector
	prevVelTime      time.Time
	velInit          bool

	goal       r3.Vector
	refHeading float64

	traj *trajectory.Trajectory
}

// NewPlanner wires the pipeline stages together. The corridor publisher may
// be nil when no execution side consumes corridors.
func NewPlanner(
	cfg Config,
	m *riskmap.Map,
	search *motionplan.Planner,
	coord *swarm.Coordinator,
	corridorPub msgs.CorridorPublisher,
	logger golog.Logger,
) (*Planner, error) {
	return newPlannerWithClock(cfg, m, search, coord, corridorPub, logger, clock.New())
}

func newPlannerWithClock(
	cfg Config,
	m *riskmap.Map,
	search *motionplan.Planner,
	coord *swarm.Coordinator,
	corridorPub msgs.CorridorPublisher,
	logger golog.Logger,
	clk clock.Clock,
) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid planner config")
	}
	return &Planner{
		cfg:         cfg,
		logger:      logger,
		clk:         clk,
		riskMap:     m,
		search:      search,
		opt:         trajopt.New(logger),
		coord:       coord,
		corridorPub: corridorPub,
		refHeading:  math.NaN(),
	}, nil
}

// SetGoal stores the goal for subsequent cycles.
func (p *Planner) SetGoal(goal r3.Vector) {
	p.goal = goal
}

// Pos returns the latest odometry position.
func (p *Planner) Pos() r3.Vector {
	pos, _, _, _ := p.snapshotOdometry()
	return pos
}

// Trajectory returns the most recently accepted trajectory, or nil.
func (p *Planner) Trajectory() *trajectory.Trajectory {
	return p.traj
}

// InputsFresh reports whether odometry and the risk map have both been
// updated within the staleness timeout. A callback holding the odometry
// reads as not fresh for this tick.
func (p *Planner) InputsFresh(now time.Time) bool {
	if !p.stateBusy.CompareAndSwap(false, true) {
		return false
	}
	received := p.odomReceived
	lastOdom := p.lastOdomTime
	p.stateBusy.Store(false)

	if !received || now.Sub(lastOdom) > p.cfg.StalenessTimeout {
		return false
	}
	lastMap := p.riskMap.LastUpdate()
	return !lastMap.IsZero() && now.Sub(lastMap) <= p.cfg.StalenessTimeout
}

// Plan runs one full cycle. Any returned error means "no trajectory this
// cycle": the caller keeps the previous trajectory and retries next tick.
func (p *Planner) Plan(ctx context.Context) error {
	pos, vel, acc, ok := p.snapshotOdometry()
	if !ok {
		return errors.New("odometry unavailable, skipping cycle")
	}

	// Hold the grid for the whole cycle so the search never reads a
	// half-written update. A writer mid-update costs us this tick.
	if !p.riskMap.AcquirePlanning() {
		return errors.New("risk map busy, skipping cycle")
	}
	defer p.riskMap.ReleasePlanning()

	// Rebuild the inflation kernel from the ego swept volume, padded by the
	// safety distance, and merge the other agents' predictions into the
	// future layers.
	mapCfg := p.riskMap.Config()
	p.riskMap.SetKernelFromPoints(p.coord.EgoParticles(mapCfg.Resolution, p.cfg.SafetyDistance))
	now := p.clk.Now()
	for k := 0; k < mapCfg.PredictionTimes; k++ {
		at := now.Add(time.Duration(float64(k) * mapCfg.TimeResolution * float64(time.Second)))
		if pts := p.coord.ParticlesAt(at); len(pts) > 0 {
			if err := p.riskMap.MergeAgentSamples(pts, k); err != nil {
				p.logger.Debugw("agent merge skipped", "layer", k, "error", err)
			}
		}
	}

	path, err := p.search.Plan(ctx, motionplan.State{Pos: pos, Vel: vel}, p.goal, 0, p.refHeading, p.riskMap)
	if err != nil {
		return errors.Wrap(err, "search failed")
	}
	if len(path) < 2 {
		return errors.New("already at goal, nothing to plan")
	}
	if len(path) > maxPathSegments {
		return errors.Errorf("search returned %d segments, rejecting as degenerate", len(path))
	}

	// Carry the first segment's heading into the next cycle's tie-break.
	d0 := path[1].Pos.Sub(path[0].Pos)
	if math.Hypot(d0.X, d0.Y) > 1e-3 {
		p.refHeading = math.Atan2(d0.Y, d0.X)
	}

	if len(path) > p.cfg.MaxRouteSegments+1 {
		path = path[:p.cfg.MaxRouteSegments+1]
	}
	route := make([]r3.Vector, len(path))
	for i, n := range path {
		route[i] = n.Pos
	}

	segTime := path[1].Time - path[0].Time
	horizon := segTime * float64(len(route)-1)
	lower := p.cfg.CorridorBoxLower.Add(pos)
	upper := p.cfg.CorridorBoxUpper.Add(pos)
	obstacles := p.riskMap.ObstaclePointsInBox(0, horizon, lower, upper)

	chain, err := corridor.Cover(route, obstacles, lower, upper, segTime)
	if err != nil {
		// Degenerate corridors are fatal for this cycle only; nothing
		// reaches the optimizer.
		return errors.Wrap(err, "corridor extraction failed")
	}

	last := len(path) - 1
	init := trajopt.BoundaryState{Pos: route[0], Vel: path[0].Vel, Acc: acc}
	final := trajopt.BoundaryState{Pos: route[last], Vel: path[last].Vel}
	if err := p.opt.Setup(init, final, chain.TimeAllocations(), chain, p.cfg.OptMaxVel, p.cfg.OptMaxAcc); err != nil {
		return errors.Wrap(err, "optimizer setup failed")
	}

	status, err := p.opt.Optimize()
	if status != trajopt.StatusSuccess {
		return errors.Wrapf(err, "optimization %s", status)
	}
	tr, err := p.opt.Trajectory()
	if err != nil {
		return err
	}
	for !p.opt.IsCorridorSatisfied(tr, p.cfg.OptMaxVel, p.cfg.OptMaxAcc, p.cfg.DeltaCorridor) {
		// ReOptimize enforces its own retry budget and errors past it.
		status, err = p.opt.ReOptimize()
		if status != trajopt.StatusSuccess {
			return errors.Wrapf(err, "re-optimization %s", status)
		}
		if tr, err = p.opt.Trajectory(); err != nil {
			return err
		}
	}

	tr.DroneID = p.cfg.DroneID
	tr.StartTime = p.clk.Now()
	if !p.coord.IsSafeAfterOpt(tr) {
		return errors.New("trajectory conflicts with another agent after optimization")
	}

	if p.corridorPub != nil {
		p.corridorPub.PublishCorridors(msgs.FromChain(chain,
			[3]r3.Vector{init.Pos, init.Vel, init.Acc},
			[3]r3.Vector{final.Pos, final.Vel, final.Acc},
		))
	}

	p.traj = tr
	return nil
}
