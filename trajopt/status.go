package trajopt

// Status is the optimizer's result signal. Solver failures are values, never
// panics: Infeasible means the constraint set admits no solution the solver
// can reach, InternalError means the numerical solve itself failed.
type Status int

// Optimization outcomes.
const (
	StatusSuccess Status = iota
	StatusInfeasible
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInfeasible:
		return "infeasible"
	case StatusInternalError:
		return "internal_error"
	}
	return "unknown"
}
