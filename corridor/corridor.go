// Package corridor extracts chains of convex free-space polytopes around a
// searched path. Each corridor is an intersection of half-spaces tangent to
// an obstacle-dilated ellipsoid seeded on one path segment, clipped to a
// global bounding box, and carries the time allocated to its segment.
package corridor

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// HalfSpace is one face of a corridor: points x with Normal·(x-Point) <= 0
// are inside.
type HalfSpace struct {
	Point  r3.Vector
	Normal r3.Vector
}

// Corridor is a convex polytope with a traversal duration and the two path
// nodes it connects.
type Corridor struct {
	Planes   []HalfSpace
	Duration float64
	Start    r3.Vector
	End      r3.Vector
}

// Contains reports whether a point lies inside the polytope within tol.
func (c *Corridor) Contains(p r3.Vector, tol float64) bool {
	for _, hs := range c.Planes {
		if hs.Normal.Dot(p.Sub(hs.Point)) > tol {
			return false
		}
	}
	return true
}

// Violation returns the largest signed distance of p outside any face;
// non-positive means contained.
func (c *Corridor) Violation(p r3.Vector) float64 {
	worst := 0.0
	for _, hs := range c.Planes {
		if d := hs.Normal.Dot(p.Sub(hs.Point)); d > worst {
			worst = d
		}
	}
	return worst
}

// Chain is an ordered corridor sequence covering a path.
type Chain []Corridor

// TimeAllocations returns the per-corridor durations for the optimizer.
func (ch Chain) TimeAllocations() []float64 {
	alloc := make([]float64, len(ch))
	for i := range ch {
		alloc[i] = ch[i].Duration
	}
	return alloc
}

// Validate checks the structural invariants the optimizer assumes: every
// corridor contains its own endpoints, and consecutive corridors overlap at
// the shared path node so a continuous trajectory can pass between them.
func (ch Chain) Validate(tol float64) error {
	var err error
	if len(ch) == 0 {
		return errors.New("empty corridor chain")
	}
	for i := range ch {
		if len(ch[i].Planes) == 0 {
			err = multierr.Append(err, errors.Errorf("corridor %d has no faces", i))
			continue
		}
		if !ch[i].Contains(ch[i].Start, tol) || !ch[i].Contains(ch[i].End, tol) {
			err = multierr.Append(err, errors.Errorf("corridor %d does not contain its segment", i))
		}
		if i > 0 && !ch[i].Contains(ch[i-1].End, tol) {
			err = multierr.Append(err, errors.Errorf("corridors %d and %d do not overlap", i-1, i))
		}
	}
	return err
}
