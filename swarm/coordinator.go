// Package swarm coordinates with the other vehicles on the broadcast
// channel: it keeps their latest predicted trajectories, serves position
// particles for the risk map's multi-agent merge, and checks freshly
// optimized trajectories for separation before they are committed.
package swarm

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/siyuanwu99/RAST-corridor-planning/msgs"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

// Config bounds the coordinator's view of the swarm.
type Config struct {
	// EgoID is this vehicle's drone id; its own broadcasts are ignored.
	EgoID int
	// DroneRadius inflates other agents and shapes the ego swept volume.
	DroneRadius float64
	// Staleness is the age beyond which another agent's prediction is
	// treated as unreliable and excluded from the merge.
	Staleness time.Duration
	// SeparationDist is the minimum allowed distance to any other agent's
	// prediction, checked after optimization.
	SeparationDist float64
}

// DefaultConfig returns the swarm bounds for a small quadrotor.
func DefaultConfig(egoID int) Config {
	return Config{
		EgoID:          egoID,
		DroneRadius:    0.25,
		Staleness:      2 * time.Second,
		SeparationDist: 0.6,
	}
}

type agentEntry struct {
	traj     *trajectory.Trajectory
	received time.Time
}

// Coordinator is safe for concurrent use; broadcast callbacks and the
// planning cycle touch it from different goroutines.
type Coordinator struct {
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	mu     sync.Mutex
	agents map[int]*agentEntry
}

// New returns a coordinator on the wall clock.
func New(cfg Config, logger golog.Logger) *Coordinator {
	return NewWithClock(cfg, logger, clock.New())
}

// NewWithClock is New with an injectable clock for staleness tests.
func NewWithClock(cfg Config, logger golog.Logger, clk clock.Clock) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logger,
		clk:    clk,
		agents: map[int]*agentEntry{},
	}
}

// NumAgents returns how many other agents are currently tracked.
func (c *Coordinator) NumAgents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.agents)
}

// OnTrajectory ingests a broadcast trajectory message from another agent.
func (c *Coordinator) OnTrajectory(msg msgs.TrajectoryMsg) error {
	if msg.DroneID == c.cfg.EgoID {
		return nil
	}
	tr, err := msg.Trajectory()
	if err != nil {
		return errors.Wrapf(err, "broadcast from drone %d", msg.DroneID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[msg.DroneID] = &agentEntry{traj: tr, received: c.clk.Now()}
	return nil
}

// ParticlesAt returns the predicted world positions of all other agents at
// an absolute time, inflated to the drone radius. Stale predictions are
// excluded rather than trusted optimistically.
func (c *Coordinator) ParticlesAt(at time.Time) []r3.Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	var pts []r3.Vector
	r := c.cfg.DroneRadius
	offsets := []r3.Vector{
		{}, {X: r}, {X: -r}, {Y: r}, {Y: -r}, {Z: r}, {Z: -r},
	}
	for id, entry := range c.agents {
		if now.Sub(entry.received) > c.cfg.Staleness {
			c.logger.Debugf("excluding stale prediction from drone %d", id)
			continue
		}
		center := entry.traj.PosAt(at)
		for _, off := range offsets {
			pts = append(pts, center.Add(off))
		}
	}
	return pts
}

// EgoParticles returns a body-frame swept-volume sample of this vehicle at
// the given spacing, used to rebuild the risk map's inflation kernel. The
// margin pads the body radius with the planner's safety distance so the
// search keeps that much clearance beyond the hull.
func (c *Coordinator) EgoParticles(spacing, margin float64) []r3.Vector {
	if spacing <= 0 {
		return nil
	}
	r := c.cfg.DroneRadius + margin
	var pts []r3.Vector
	for x := -r; x <= r; x += spacing {
		for y := -r; y <= r; y += spacing {
			for z := -r; z <= r; z += spacing {
				pts = append(pts, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

// IsSafeAfterOpt samples a freshly optimized trajectory against all fresh
// agent predictions and reports whether separation holds throughout.
func (c *Coordinator) IsSafeAfterOpt(tr *trajectory.Trajectory) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	const dt = 0.1
	for id, entry := range c.agents {
		if now.Sub(entry.received) > c.cfg.Staleness {
			continue
		}
		for t := 0.0; t <= tr.Duration(); t += dt {
			at := tr.StartTime.Add(time.Duration(t * float64(time.Second)))
			if tr.Pos(t).Sub(entry.traj.PosAt(at)).Norm() < c.cfg.SeparationDist {
				c.logger.Warnf("trajectory within separation distance of drone %d", id)
				return false
			}
		}
	}
	return true
}
