package motionplan

import "errors"

// ErrNoPath is returned when the search exhausts its expansion budget without
// producing a usable path. Callers treat it as a per-cycle failure, never as
// a fatal condition.
var ErrNoPath = errors.New("kinodynamic search found no feasible path")

// ErrStartBlocked is returned when the start state itself is in collision or
// outside the risk window.
var ErrStartBlocked = errors.New("search start state is not collision free")
