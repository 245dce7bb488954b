package motionplan

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Options bound the kinodynamic search. Velocities and accelerations are
// split into horizontal and vertical limits, matching the vehicle's flight
// envelope.
type Options struct {
	MaxVelXY float64
	MaxVelZ  float64
	MaxAccXY float64
	MaxAccZ  float64

	// AccSamples is the number of acceleration samples per horizontal axis
	// used to build motion primitives.
	AccSamples int
	// SampleZ enables sampling vertical acceleration; when false primitives
	// keep the current vertical velocity.
	SampleZ bool

	// TimeStep is the fixed duration of one motion primitive.
	TimeStep float64
	// CheckSteps is the number of sub-samples along a primitive's swept path
	// checked against the risk field.
	CheckSteps int

	// MaxExpansions caps the search; it always runs to completion or this
	// bound, never suspends.
	MaxExpansions int
	// GoalTolerance is the arrival radius around the goal.
	GoalTolerance float64

	// UseHeightLimit restricts expansion to [HeightMin, HeightMax] altitude.
	UseHeightLimit       bool
	HeightMin, HeightMax float64

	// RefHeadingWeight penalizes first-segment heading deviation from the
	// previous cycle's direction, keeping consecutive replans coherent.
	RefHeadingWeight float64

	// ControlWeight prices control effort into the traversal cost.
	ControlWeight float64
}

// DefaultOptions returns the bounds used by the aerial planner.
func DefaultOptions() Options {
	return Options{
		MaxVelXY:         3.0,
		MaxVelZ:          1.0,
		MaxAccXY:         3.0,
		MaxAccZ:          1.5,
		AccSamples:       3,
		SampleZ:          false,
		TimeStep:         0.4,
		CheckSteps:       4,
		MaxExpansions:    10000,
		GoalTolerance:    0.4,
		UseHeightLimit:   true,
		HeightMin:        0.2,
		HeightMax:        3.5,
		RefHeadingWeight: 0.4,
		ControlWeight:    0.01,
	}
}

// Validate returns all option problems at once.
func (o Options) Validate() error {
	var err error
	if o.MaxVelXY <= 0 || o.MaxVelZ <= 0 {
		err = multierr.Append(err, errors.New("velocity limits must be positive"))
	}
	if o.MaxAccXY <= 0 || o.MaxAccZ <= 0 {
		err = multierr.Append(err, errors.New("acceleration limits must be positive"))
	}
	if o.AccSamples < 2 {
		err = multierr.Append(err, errors.New("need at least two acceleration samples per axis"))
	}
	if o.TimeStep <= 0 {
		err = multierr.Append(err, errors.New("time step must be positive"))
	}
	if o.CheckSteps < 1 {
		err = multierr.Append(err, errors.New("need at least one collision check per primitive"))
	}
	if o.MaxExpansions < 1 {
		err = multierr.Append(err, errors.New("expansion cap must be positive"))
	}
	if o.UseHeightLimit && o.HeightMin >= o.HeightMax {
		err = multierr.Append(err, errors.New("height limits inverted"))
	}
	return err
}
