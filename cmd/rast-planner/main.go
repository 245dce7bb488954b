// Command rast-planner runs the full planning stack against a synthetic
// world: a static wall, one moving cylinder, and an odometry source that
// follows the published trajectory. It is a smoke harness, not a flight
// controller.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"

	"github.com/siyuanwu99/RAST-corridor-planning/motionplan"
	"github.com/siyuanwu99/RAST-corridor-planning/msgs"
	"github.com/siyuanwu99/RAST-corridor-planning/planner"
	"github.com/siyuanwu99/RAST-corridor-planning/riskmap"
	"github.com/siyuanwu99/RAST-corridor-planning/swarm"
	"github.com/siyuanwu99/RAST-corridor-planning/trajectory"
)

func main() {
	var (
		droneID  = flag.Int("id", 0, "drone identifier")
		goalX    = flag.Float64("gx", 6.0, "goal x")
		goalY    = flag.Float64("gy", 0.0, "goal y")
		goalZ    = flag.Float64("gz", 1.0, "goal z")
		duration = flag.Duration("duration", 30*time.Second, "run duration")
		debug    = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	zcfg := zap.NewDevelopmentConfig()
	if !*debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zl, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	var logger golog.Logger = zl.Sugar().Named("rast-planner")

	if err := run(*droneID, r3.Vector{X: *goalX, Y: *goalY, Z: *goalZ}, *duration, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(droneID int, goal r3.Vector, duration time.Duration, logger golog.Logger) error {
	m, err := riskmap.New(riskmap.DefaultConfig(), logger.Named("riskmap"))
	if err != nil {
		return err
	}
	search, err := motionplan.NewPlanner(motionplan.DefaultOptions(), logger.Named("search"))
	if err != nil {
		return err
	}
	coord := swarm.New(swarm.DefaultConfig(droneID), logger.Named("swarm"))

	bus := newBus(coord, logger.Named("bus"))

	cfg := planner.DefaultConfig()
	cfg.DroneID = droneID
	pipe, err := planner.NewPlanner(cfg, m, search, coord, bus, logger.Named("planner"))
	if err != nil {
		return err
	}

	fsm := planner.NewFSM(cfg, pipe, bus, logger)
	fsm.Start()
	defer fsm.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feedWorld(ctx, m) })
	g.Go(func() error { return followTrajectory(ctx, pipe, bus) })

	fsm.Trigger(goal)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Infow("run finished", "state", fsm.State().String())
	return nil
}

// feedWorld publishes observations of a static wall at x=3 with a gap, plus
// a cylinder crossing the gap, at the sensor rate.
func feedWorld(ctx context.Context, m *riskmap.Map) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		t := time.Since(start).Seconds()
		cyl := riskmap.MovingObstacle{
			Kind:     riskmap.KindCylinder,
			Center:   r3.Vector{X: 3, Y: 2 - 0.5*math.Mod(t, 8), Z: 1},
			Width:    0.4,
			Velocity: r3.Vector{Y: -0.5},
		}

		obs := riskmap.Observation{Obstacles: []riskmap.MovingObstacle{cyl}}
		for z := 0.0; z < 2.0; z += 0.1 {
			for y := -4.0; y < 4.0; y += 0.1 {
				if y > -0.8 && y < 0.8 {
					continue // the gap
				}
				obs.Points = append(obs.Points, r3.Vector{X: 3, Y: y, Z: z})
			}
		}
		for a := 0.0; a < 2*math.Pi; a += 0.3 {
			for z := 0.0; z < 2.0; z += 0.2 {
				obs.Points = append(obs.Points, cyl.Center.Add(r3.Vector{
					X: 0.2 * math.Cos(a),
					Y: 0.2 * math.Sin(a),
					Z: z - 1,
				}))
			}
		}

		if err := m.Update(&obs); err != nil {
			// Busy map: drop this frame.
			continue
		}
	}
}

// followTrajectory plays the role of the flight controller: it samples the
// latest published trajectory and feeds the pose back as odometry.
func followTrajectory(ctx context.Context, pipe *planner.Planner, bus *localBus) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	identity := quat.Number{Real: 1}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now()
		pos := r3.Vector{Z: 1}
		vel := r3.Vector{}
		if tr := bus.latest(); tr != nil {
			pos = tr.PosAt(now)
			elapsed := now.Sub(tr.StartTime).Seconds()
			vel = tr.Vel(elapsed)
		}
		pipe.UpdatePose(pos, identity, now)
		pipe.UpdateVelocity(vel, now)
	}
}

// localBus is an in-process stand-in for the vehicle's message transport.
// Published trajectories are kept for the follower; broadcasts loop back
// into the swarm coordinator the way a radio would deliver them to peers.
type localBus struct {
	coord  *swarm.Coordinator
	logger golog.Logger

	mu   sync.Mutex
	traj *trajectory.Trajectory
}

func newBus(coord *swarm.Coordinator, logger golog.Logger) *localBus {
	return &localBus{coord: coord, logger: logger}
}

func (b *localBus) PublishTrajectory(msg msgs.TrajectoryMsg) {
	tr, err := msg.Trajectory()
	if err != nil {
		b.logger.Errorw("bad trajectory message", "error", err)
		return
	}
	b.mu.Lock()
	b.traj = tr
	b.mu.Unlock()
	b.logger.Infow("trajectory published", "id", msg.TrajID, "pieces", len(msg.Durations))
}

func (b *localBus) BroadcastTrajectory(msg msgs.TrajectoryMsg) {
	if err := b.coord.OnTrajectory(msg); err != nil {
		b.logger.Debugw("broadcast dropped", "error", err)
	}
}

func (b *localBus) PublishCorridors(msg msgs.CorridorMsg) {
	b.logger.Debugw("corridors published", "sections", len(msg.Corridors))
}

func (b *localBus) latest() *trajectory.Trajectory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.traj
}
