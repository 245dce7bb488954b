package trajopt

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	out := 1.0
	for i := 0; i < k; i++ {
		out = out * float64(n-i) / float64(i+1)
	}
	return out
}

// jerkGram returns the (order+1)x(order+1) cost matrix of integrated squared
// jerk for one Bezier piece of the given duration. The jerk curve of a
// degree-n Bezier is a degree n-3 Bezier in the third differences of the
// control points; the Bernstein Gram matrix closes the integral in closed
// form.
func jerkGram(order int, duration float64) [][]float64 {
	n := order
	m := n - 3
	scale := float64(n*(n-1)*(n-2)) / (duration * duration * duration)

	// diff[k][j]: coefficient of ctrl j in the k-th third difference.
	diff := make([][]float64, m+1)
	for k := 0; k <= m; k++ {
		diff[k] = make([]float64, n+1)
		diff[k][k] = -1
		diff[k][k+1] = 3
		diff[k][k+2] = -3
		diff[k][k+3] = 1
	}

	// gram[k][l] = integral of B^m_k B^m_l over [0, duration].
	gram := make([][]float64, m+1)
	for k := 0; k <= m; k++ {
		gram[k] = make([]float64, m+1)
		for l := 0; l <= m; l++ {
			gram[k][l] = duration * binomial(m, k) * binomial(m, l) /
				(float64(2*m+1) * binomial(2*m, k+l))
		}
	}

	q := make([][]float64, n+1)
	for i := range q {
		q[i] = make([]float64, n+1)
	}
	for k := 0; k <= m; k++ {
		for l := 0; l <= m; l++ {
			w := scale * scale * gram[k][l]
			for i := 0; i <= n; i++ {
				if diff[k][i] == 0 {
					continue
				}
				for j := 0; j <= n; j++ {
					if diff[l][j] == 0 {
						continue
					}
					q[i][j] += w * diff[k][i] * diff[l][j]
				}
			}
		}
	}
	return q
}

// equality is one row a.x = rhs.
type equality struct {
	idx  []int
	coef []float64
	rhs  float64
}

func (o *Optimizer) buildEqualities() []equality {
	n := o.order
	last := len(o.chain) - 1
	t0 := o.timeAlloc[0]
	tl := o.timeAlloc[last]
	var rows []equality

	initVals := [3][3]float64{
		{o.init.Pos.X, o.init.Pos.Y, o.init.Pos.Z},
		{o.init.Vel.X, o.init.Vel.Y, o.init.Vel.Z},
		{o.init.Acc.X, o.init.Acc.Y, o.init.Acc.Z},
	}
	finalVals := [3][3]float64{
		{o.final.Pos.X, o.final.Pos.Y, o.final.Pos.Z},
		{o.final.Vel.X, o.final.Vel.Y, o.final.Vel.Z},
		{o.final.Acc.X, o.final.Acc.Y, o.final.Acc.Z},
	}

	vn := float64(n)
	an := float64(n * (n - 1))

	for d := 0; d < 3; d++ {
		// Initial state on piece 0.
		rows = append(rows,
			equality{
				idx:  []int{o.varIndex(0, 0, d)},
				coef: []float64{1},
				rhs:  initVals[0][d],
			},
			equality{
				idx:  []int{o.varIndex(0, 0, d), o.varIndex(0, 1, d)},
				coef: []float64{-vn / t0, vn / t0},
				rhs:  initVals[1][d],
			},
			equality{
				idx:  []int{o.varIndex(0, 0, d), o.varIndex(0, 1, d), o.varIndex(0, 2, d)},
				coef: []float64{an / (t0 * t0), -2 * an / (t0 * t0), an / (t0 * t0)},
				rhs:  initVals[2][d],
			},
		)
		// Final state on the last piece.
		rows = append(rows,
			equality{
				idx:  []int{o.varIndex(last, n, d)},
				coef: []float64{1},
				rhs:  finalVals[0][d],
			},
			equality{
				idx:  []int{o.varIndex(last, n-1, d), o.varIndex(last, n, d)},
				coef: []float64{-vn / tl, vn / tl},
				rhs:  finalVals[1][d],
			},
			equality{
				idx:  []int{o.varIndex(last, n-2, d), o.varIndex(last, n-1, d), o.varIndex(last, n, d)},
				coef: []float64{an / (tl * tl), -2 * an / (tl * tl), an / (tl * tl)},
				rhs:  finalVals[2][d],
			},
		)
	}

	// C0/C1/C2 continuity at interior joints.
	for i := 0; i+1 < len(o.chain); i++ {
		ta, tb := o.timeAlloc[i], o.timeAlloc[i+1]
		for d := 0; d < 3; d++ {
			rows = append(rows,
				equality{
					idx:  []int{o.varIndex(i, n, d), o.varIndex(i+1, 0, d)},
					coef: []float64{1, -1},
				},
				equality{
					idx: []int{
						o.varIndex(i, n-1, d), o.varIndex(i, n, d),
						o.varIndex(i+1, 0, d), o.varIndex(i+1, 1, d),
					},
					coef: []float64{-vn / ta, vn / ta, vn / tb, -vn / tb},
				},
				equality{
					idx: []int{
						o.varIndex(i, n-2, d), o.varIndex(i, n-1, d), o.varIndex(i, n, d),
						o.varIndex(i+1, 0, d), o.varIndex(i+1, 1, d), o.varIndex(i+1, 2, d),
					},
					coef: []float64{
						an / (ta * ta), -2 * an / (ta * ta), an / (ta * ta),
						-an / (tb * tb), 2 * an / (tb * tb), -an / (tb * tb),
					},
				},
			)
		}
	}
	return rows
}

// buildInequalities lists every containment and dynamic-limit row at the
// current corridor margin. The convex hull property of Bezier curves makes
// control-point containment sufficient for the whole piece.
func (o *Optimizer) buildInequalities() []linConstraint {
	n := o.order
	vn := float64(n)
	an := float64(n * (n - 1))
	var rows []linConstraint

	for i := range o.chain {
		t := o.timeAlloc[i]
		for _, hs := range o.chain[i].Planes {
			nd := [3]float64{hs.Normal.X, hs.Normal.Y, hs.Normal.Z}
			ub := hs.Normal.Dot(hs.Point) - o.margin
			for j := 0; j <= n; j++ {
				rows = append(rows, linConstraint{
					idx:  []int{o.varIndex(i, j, 0), o.varIndex(i, j, 1), o.varIndex(i, j, 2)},
					coef: []float64{nd[0], nd[1], nd[2]},
					ub:   ub,
				})
			}
		}
		for d := 0; d < 3; d++ {
			for j := 0; j < n; j++ {
				idx := []int{o.varIndex(i, j, d), o.varIndex(i, j+1, d)}
				rows = append(rows,
					linConstraint{idx: idx, coef: []float64{-vn / t, vn / t}, ub: o.maxVel},
					linConstraint{idx: idx, coef: []float64{vn / t, -vn / t}, ub: o.maxVel},
				)
			}
			for j := 0; j+1 < n; j++ {
				idx := []int{o.varIndex(i, j, d), o.varIndex(i, j+1, d), o.varIndex(i, j+2, d)}
				c := an / (t * t)
				rows = append(rows,
					linConstraint{idx: idx, coef: []float64{c, -2 * c, c}, ub: o.maxAcc},
					linConstraint{idx: idx, coef: []float64{-c, 2 * c, -c}, ub: o.maxAcc},
				)
			}
		}
	}
	return rows
}

// solvePenalty runs the equality-constrained KKT solve, folding violated
// inequalities back in as quadratic penalties with escalating weight until
// all rows hold or the iteration budget runs out.
func (o *Optimizer) solvePenalty() (Status, error) {
	nv := o.numVars()
	eqs := o.buildEqualities()
	ineqs := o.buildInequalities()
	ne := len(eqs)

	base := mat.NewDense(nv, nv, nil)
	for i := range o.chain {
		q := jerkGram(o.order, o.timeAlloc[i])
		for j := 0; j <= o.order; j++ {
			for k := 0; k <= o.order; k++ {
				if q[j][k] == 0 {
					continue
				}
				for d := 0; d < 3; d++ {
					r, c := o.varIndex(i, j, d), o.varIndex(i, k, d)
					base.Set(r, c, base.At(r, c)+q[j][k])
				}
			}
		}
	}
	// Regularize: the jerk cost has a polynomial nullspace.
	for i := 0; i < nv; i++ {
		base.Set(i, i, base.At(i, i)+1e-8)
	}

	weights := make([]float64, len(ineqs))
	for iter := 0; iter < maxPenaltyIters; iter++ {
		kkt := mat.NewDense(nv+ne, nv+ne, nil)
		rhs := mat.NewVecDense(nv+ne, nil)

		kkt.Slice(0, nv, 0, nv).(*mat.Dense).Copy(base)
		for ci, con := range ineqs {
			w := weights[ci]
			if w == 0 {
				continue
			}
			for a, ia := range con.idx {
				for b, ib := range con.idx {
					kkt.Set(ia, ib, kkt.At(ia, ib)+2*w*con.coef[a]*con.coef[b])
				}
				rhs.SetVec(ia, rhs.AtVec(ia)+2*w*con.ub*con.coef[a])
			}
		}
		for r, eq := range eqs {
			for a, ia := range eq.idx {
				kkt.Set(nv+r, ia, eq.coef[a])
				kkt.Set(ia, nv+r, eq.coef[a])
			}
			rhs.SetVec(nv+r, eq.rhs)
		}

		var sol mat.VecDense
		if err := sol.SolveVec(kkt, rhs); err != nil {
			return StatusInternalError, errors.Wrap(err, "KKT solve failed")
		}
		x := make([]float64, nv)
		for i := range x {
			x[i] = sol.AtVec(i)
		}

		violated := 0
		for ci, con := range ineqs {
			val := 0.0
			for a, ia := range con.idx {
				val += con.coef[a] * x[ia]
			}
			if val > con.ub+1e-6 {
				violated++
				if weights[ci] == 0 {
					weights[ci] = initialPenalty
				} else {
					weights[ci] *= 10
				}
			}
		}
		if violated == 0 {
			o.sol = x
			return StatusSuccess, nil
		}
		o.logger.Debugw("penalty iteration", "iter", iter, "violated", violated)
	}
	return StatusInfeasible, errors.New("inequality constraints unsatisfied after penalty iterations")
}
