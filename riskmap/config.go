package riskmap

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Config holds the static geometry of the spatio-temporal grid. All distances
// are in meters, all durations in seconds.
type Config struct {
	// Resolution is the edge length of one voxel.
	Resolution float64
	// TimeResolution is the duration of one prediction layer.
	TimeResolution float64
	// LengthVoxels, WidthVoxels and HeightVoxels are the number of voxels
	// along x, y and z. The map spans half that extent on each side of the
	// center.
	LengthVoxels int
	WidthVoxels  int
	HeightVoxels int
	// PredictionTimes is the number of future time layers, including the
	// current one at index 0.
	PredictionTimes int
	// RiskThreshold is the accumulated risk above which a query position is
	// reported as occupied.
	RiskThreshold float64
	// Clearance is the radius of the default inflation kernel.
	Clearance float64
}

// DefaultConfig returns the grid used by the planner: a 10m x 10m x 4m window
// at 0.1m resolution with nine 0.2s prediction layers.
func DefaultConfig() Config {
	return Config{
		Resolution:      0.1,
		TimeResolution:  0.2,
		LengthVoxels:    100,
		WidthVoxels:     100,
		HeightVoxels:    40,
		PredictionTimes: 9,
		RiskThreshold:   0.2,
		Clearance:       0.3,
	}
}

// Validate returns all configuration problems at once.
func (c Config) Validate() error {
	var err error
	if c.Resolution <= 0 {
		err = multierr.Append(err, errors.New("resolution must be positive"))
	}
	if c.TimeResolution <= 0 {
		err = multierr.Append(err, errors.New("time resolution must be positive"))
	}
	if c.LengthVoxels <= 0 || c.WidthVoxels <= 0 || c.HeightVoxels <= 0 {
		err = multierr.Append(err, errors.New("voxel counts must be positive"))
	}
	if c.PredictionTimes <= 0 {
		err = multierr.Append(err, errors.New("prediction times must be positive"))
	}
	if c.RiskThreshold < 0 || c.RiskThreshold > 1 {
		err = multierr.Append(err, errors.Errorf("risk threshold %f outside [0,1]", c.RiskThreshold))
	}
	if c.Clearance < 0 {
		err = multierr.Append(err, errors.New("clearance must be non-negative"))
	}
	return err
}

func (c Config) voxelNum() int {
	return c.LengthVoxels * c.WidthVoxels * c.HeightVoxels
}
