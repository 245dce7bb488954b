package planner

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Config drives the planning orchestrator and the per-cycle pipeline.
type Config struct {
	DroneID int

	// TickPeriod is the FSM timer period; one full plan cycle must fit
	// inside it.
	TickPeriod time.Duration
	// ReplanPeriod is how long a trajectory executes before a periodic
	// replan is forced.
	ReplanPeriod time.Duration
	// StalenessTimeout bounds the age of odometry and risk map inputs;
	// beyond it the FSM falls back to waiting for inputs.
	StalenessTimeout time.Duration

	// GoalTolerance is the arrival radius around the active goal.
	GoalTolerance float64
	// DefaultAltitude fills in the goal z when a trigger omits it.
	DefaultAltitude float64

	// MaxDiffAccel clamps finite-differenced acceleration; AccelDeadZone
	// zeroes small noisy values.
	MaxDiffAccel  float64
	AccelDeadZone float64

	// SafetyDistance inflates the search's collision checks beyond the
	// vehicle clearance.
	SafetyDistance float64
	// DeltaCorridor is the tolerance of the post-optimization corridor
	// check and the tightening step granted to the optimizer.
	DeltaCorridor float64

	// OptMaxVel and OptMaxAcc are the dynamic limits handed to the
	// trajectory optimizer.
	OptMaxVel float64
	OptMaxAcc float64

	// MaxRouteSegments truncates the searched path before corridor
	// extraction; replanning covers the rest on later cycles.
	MaxRouteSegments int

	// CorridorBoxLower and CorridorBoxUpper bound corridor extraction,
	// relative to the vehicle position.
	CorridorBoxLower r3.Vector
	CorridorBoxUpper r3.Vector
}

// DefaultConfig returns the orchestrator timing and limits used in flight.
func DefaultConfig() Config {
	return Config{
		DroneID:          0,
		TickPeriod:       100 * time.Millisecond,
		ReplanPeriod:     500 * time.Millisecond,
		StalenessTimeout: time.Second,
		GoalTolerance:    1.0,
		DefaultAltitude:  1.0,
		MaxDiffAccel:     3.0,
		AccelDeadZone:    0.2,
		SafetyDistance:   0.25,
		DeltaCorridor:    0.1,
		OptMaxVel:        3.0,
		OptMaxAcc:        4.0,
		MaxRouteSegments: 4,
		CorridorBoxLower: r3.Vector{X: -5, Y: -5, Z: -1},
		CorridorBoxUpper: r3.Vector{X: 5, Y: 5, Z: 3},
	}
}

// Validate returns all configuration problems at once.
func (c Config) Validate() error {
	var err error
	if c.TickPeriod <= 0 {
		err = multierr.Append(err, errors.New("tick period must be positive"))
	}
	if c.ReplanPeriod <= 0 {
		err = multierr.Append(err, errors.New("replan period must be positive"))
	}
	if c.StalenessTimeout <= 0 {
		err = multierr.Append(err, errors.New("staleness timeout must be positive"))
	}
	if c.GoalTolerance <= 0 {
		err = multierr.Append(err, errors.New("goal tolerance must be positive"))
	}
	if c.OptMaxVel <= 0 || c.OptMaxAcc <= 0 {
		err = multierr.Append(err, errors.New("optimizer dynamic limits must be positive"))
	}
	if c.MaxRouteSegments < 1 {
		err = multierr.Append(err, errors.New("route segment cap must be at least 1"))
	}
	if c.DeltaCorridor <= 0 {
		err = multierr.Append(err, errors.New("corridor tolerance must be positive"))
	}
	return err
}
