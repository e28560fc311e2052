package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Columns of the working problem are laid out as the structural variables
// followed by one (slack, artificial) pair per row, so that rows appended
// after a solve never shift existing column indices.

type varStat uint8

const (
	atLower varStat = iota
	atUpper
	atZero
	isBasic
)

type lpResult int

const (
	lpOptimal lpResult = iota
	lpInfeasible
	lpUnbounded
	lpUnknown
)

const (
	ratioTol    = 1e-11
	phase1Tol   = 1e-6
	dualFeasTol = 1e-7
	blandAfter  = 50
	degenStep   = 1e-12
)

var (
	errSingularBasis = errors.New("solver: singular basis")
	errNoWarmStart   = errors.New("solver: basis cannot be reused")
)

type warmStart struct {
	valid   bool
	nStruct int
	nRows   int
	basis   []int
	stat    []varStat
	artSign []float64
}

type lpSolution struct {
	result lpResult
	x      []float64
	obj    float64
	duals  []float64
	farkas []float64
}

type lpEngine struct {
	m   *Model
	cfg *config

	n, rows int
	lb, ub  []float64
	cost    []float64
	b       []float64
	x       []float64
	stat    []varStat
	basis   []int
	artSign []float64

	binv     *mat.Dense
	pivots   int
	iters    int
	limit    int
	viaDual  bool
	farkas   []float64
	scratchY []float64
}

func newEngine(m *Model, lb, ub []float64) *lpEngine {
	n, rows := len(m.vars), len(m.rows)
	cols := n + 2*rows
	e := &lpEngine{
		m:        m,
		cfg:      &m.cfg,
		n:        n,
		rows:     rows,
		lb:       make([]float64, cols),
		ub:       make([]float64, cols),
		cost:     make([]float64, cols),
		b:        make([]float64, rows),
		x:        make([]float64, cols),
		stat:     make([]varStat, cols),
		basis:    make([]int, rows),
		artSign:  make([]float64, rows),
		scratchY: make([]float64, rows),
	}
	for j := 0; j < n; j++ {
		e.lb[j], e.ub[j] = lb[j], ub[j]
		e.cost[j] = m.vars[j].cost
	}
	for i, r := range m.rows {
		e.b[i] = r.rhs
		s := e.slack(i)
		switch r.rel {
		case LessEq:
			e.lb[s], e.ub[s] = 0, Inf
		case GreaterEq:
			e.lb[s], e.ub[s] = -Inf, 0
		default:
			e.lb[s], e.ub[s] = 0, 0
		}
		e.artSign[i] = 1
	}
	e.limit = m.cfg.iterLimit
	if e.limit <= 0 {
		e.limit = 20*(rows+cols) + 1000
	}
	return e
}

func (e *lpEngine) slack(i int) int      { return e.n + 2*i }
func (e *lpEngine) artificial(i int) int { return e.n + 2*i + 1 }

func (e *lpEngine) scatter(j int, fn func(row int, v float64)) {
	if j < e.n {
		for _, en := range e.m.vars[j].entries {
			fn(en.row, en.coef)
		}
		return
	}
	k := j - e.n
	if k%2 == 1 {
		fn(k/2, e.artSign[k/2])
		return
	}
	fn(k/2, 1)
}

func (e *lpEngine) dot(j int, v []float64) float64 {
	if j < e.n {
		var s float64
		for _, en := range e.m.vars[j].entries {
			s += v[en.row] * en.coef
		}
		return s
	}
	k := j - e.n
	if k%2 == 1 {
		return e.artSign[k/2] * v[k/2]
	}
	return v[k/2]
}

func (e *lpEngine) binvRow(i int) []float64 {
	raw := e.binv.RawMatrix()
	return raw.Data[i*raw.Stride : i*raw.Stride+e.rows]
}

// ftran computes w = B^-1 a_j.
func (e *lpEngine) ftran(j int, w []float64) {
	for i := range w {
		w[i] = 0
	}
	raw := e.binv.RawMatrix()
	e.scatter(j, func(k int, coef float64) {
		for i := 0; i < e.rows; i++ {
			w[i] += coef * raw.Data[i*raw.Stride+k]
		}
	})
}

// duals computes y = c_B' B^-1 for the given cost vector.
func (e *lpEngine) duals(cost, y []float64) {
	for i := range y {
		y[i] = 0
	}
	for i, j := range e.basis {
		if c := cost[j]; c != 0 {
			floats.AddScaled(y, c, e.binvRow(i))
		}
	}
}

func (e *lpEngine) pivot(r int, w []float64) {
	pr := e.binvRow(r)
	floats.Scale(1/w[r], pr)
	for i := 0; i < e.rows; i++ {
		if i == r || w[i] == 0 {
			continue
		}
		floats.AddScaled(e.binvRow(i), -w[i], pr)
	}
	e.pivots++
}

func (e *lpEngine) refactor() error {
	basisMatrix := mat.NewDense(e.rows, e.rows, nil)
	for col, j := range e.basis {
		e.scatter(j, func(row int, v float64) {
			basisMatrix.Set(row, col, basisMatrix.At(row, col)+v)
		})
	}
	var inv mat.Dense
	if err := inv.Inverse(basisMatrix); err != nil {
		return fmt.Errorf("%w: %v", errSingularBasis, err)
	}
	e.binv = &inv
	e.pivots = 0
	e.computeBasics()
	return nil
}

func (e *lpEngine) computeBasics() {
	r := make([]float64, e.rows)
	copy(r, e.b)
	for j, s := range e.stat {
		if s == isBasic || e.x[j] == 0 {
			continue
		}
		xj := e.x[j]
		e.scatter(j, func(i int, v float64) { r[i] -= v * xj })
	}
	for i, j := range e.basis {
		e.x[j] = floats.Dot(e.binvRow(i), r)
	}
}

// normalize picks the nonbasic position closest to s that the current
// bounds of column j allow.
func (e *lpEngine) normalize(j int, s varStat) varStat {
	lbOK, ubOK := !math.IsInf(e.lb[j], -1), !math.IsInf(e.ub[j], 1)
	switch {
	case s == atLower && lbOK, s == atUpper && ubOK:
		return s
	case lbOK:
		return atLower
	case ubOK:
		return atUpper
	default:
		return atZero
	}
}

func (e *lpEngine) setNonbasic(j int, s varStat) {
	e.stat[j] = s
	switch s {
	case atLower:
		e.x[j] = e.lb[j]
	case atUpper:
		e.x[j] = e.ub[j]
	default:
		e.x[j] = 0
	}
}

func (e *lpEngine) move(q int, step float64, w []float64) {
	if step == 0 {
		return
	}
	for i, j := range e.basis {
		e.x[j] -= step * w[i]
	}
	e.x[q] += step
}

func (e *lpEngine) checkpoint(ctx context.Context) error {
	if e.iters >= e.limit {
		return ErrIterationLimit
	}
	if e.iters%64 == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if e.pivots >= e.cfg.refactorEvery {
		return e.refactor()
	}
	return nil
}

// price returns the entering column and its reduced cost, or -1 when the
// basis is optimal for cost.
func (e *lpEngine) price(cost, y []float64, bland bool) (int, float64) {
	q, best, dq := -1, 0.0, 0.0
	for j, s := range e.stat {
		if s == isBasic || e.lb[j] == e.ub[j] {
			continue
		}
		d := cost[j] - e.dot(j, y)
		var score float64
		switch s {
		case atLower:
			if d < -e.cfg.optTol {
				score = -d
			}
		case atUpper:
			if d > e.cfg.optTol {
				score = d
			}
		case atZero:
			if math.Abs(d) > e.cfg.optTol {
				score = math.Abs(d)
			}
		}
		if score == 0 {
			continue
		}
		if bland {
			return j, d
		}
		if score > best {
			q, best, dq = j, score, d
		}
	}
	return q, dq
}

// primal runs the bounded primal simplex method from a primal feasible basis.
func (e *lpEngine) primal(ctx context.Context, cost []float64) (lpResult, error) {
	y := e.scratchY
	w := make([]float64, e.rows)
	ratio := make([]float64, e.rows)
	degenerate := 0
	for {
		if err := e.checkpoint(ctx); err != nil {
			return lpUnknown, err
		}
		e.duals(cost, y)
		bland := degenerate > blandAfter
		q, d := e.price(cost, y, bland)
		if q < 0 {
			return lpOptimal, nil
		}
		e.ftran(q, w)
		dir := 1.0
		if d > 0 {
			dir = -1
		}

		minRatio := Inf
		for i, j := range e.basis {
			ratio[i] = Inf
			if math.Abs(w[i]) <= e.cfg.pivotTol {
				continue
			}
			delta := -dir * w[i]
			var t float64
			if delta < 0 {
				if math.IsInf(e.lb[j], -1) {
					continue
				}
				t = (e.x[j] - e.lb[j]) / -delta
			} else {
				if math.IsInf(e.ub[j], 1) {
					continue
				}
				t = (e.ub[j] - e.x[j]) / delta
			}
			if t < 0 {
				t = 0
			}
			ratio[i] = t
			if t < minRatio {
				minRatio = t
			}
		}

		span := e.ub[q] - e.lb[q]
		if math.IsInf(minRatio, 1) && math.IsInf(span, 1) {
			return lpUnbounded, nil
		}
		if span <= minRatio {
			e.move(q, dir*span, w)
			if e.stat[q] == atLower {
				e.setNonbasic(q, atUpper)
			} else {
				e.setNonbasic(q, atLower)
			}
			degenerate = 0
			e.iters++
			continue
		}

		r := -1
		for i := range e.basis {
			if ratio[i] > minRatio+ratioTol {
				continue
			}
			switch {
			case r < 0:
				r = i
			case bland:
				if e.basis[i] < e.basis[r] {
					r = i
				}
			case math.Abs(w[i]) > math.Abs(w[r]):
				r = i
			}
		}
		t := ratio[r]
		toLower := -dir*w[r] < 0
		e.move(q, dir*t, w)
		leaving := e.basis[r]
		if toLower {
			e.setNonbasic(leaving, atLower)
		} else {
			e.setNonbasic(leaving, atUpper)
		}
		e.basis[r] = q
		e.stat[q] = isBasic
		e.pivot(r, w)
		if t <= degenStep {
			degenerate++
		} else {
			degenerate = 0
		}
		e.iters++
	}
}

// dual runs the dual simplex method from a dual feasible basis. When no
// entering column exists for an infeasible row, the row of B^-1 is the
// infeasibility certificate.
func (e *lpEngine) dual(ctx context.Context, cost []float64) (lpResult, error) {
	e.viaDual = true
	y := e.scratchY
	w := make([]float64, e.rows)
	rho := make([]float64, e.rows)
	for {
		if err := e.checkpoint(ctx); err != nil {
			return lpUnknown, err
		}
		r, lower := -1, false
		worst := e.cfg.feasTol
		for i, j := range e.basis {
			if v := e.lb[j] - e.x[j]; v > worst {
				r, lower, worst = i, true, v
			}
			if v := e.x[j] - e.ub[j]; v > worst {
				r, lower, worst = i, false, v
			}
		}
		if r < 0 {
			return lpOptimal, nil
		}
		copy(rho, e.binvRow(r))
		e.duals(cost, y)

		q, bestRatio, bestAlpha := -1, Inf, 0.0
		for j, s := range e.stat {
			if s == isBasic || e.lb[j] == e.ub[j] {
				continue
			}
			alpha := e.dot(j, rho)
			if math.Abs(alpha) <= e.cfg.pivotTol {
				continue
			}
			var eligible bool
			switch s {
			case atLower:
				eligible = (lower && alpha < 0) || (!lower && alpha > 0)
			case atUpper:
				eligible = (lower && alpha > 0) || (!lower && alpha < 0)
			default:
				eligible = true
			}
			if !eligible {
				continue
			}
			ratio := math.Abs(cost[j]-e.dot(j, y)) / math.Abs(alpha)
			if ratio < bestRatio-ratioTol || (ratio <= bestRatio+ratioTol && math.Abs(alpha) > math.Abs(bestAlpha)) {
				q, bestRatio, bestAlpha = j, ratio, alpha
			}
		}
		if q < 0 {
			sign := 1.0
			if lower {
				sign = -1
			}
			e.farkas = make([]float64, e.rows)
			floats.ScaleTo(e.farkas, sign, rho)
			return lpInfeasible, nil
		}

		e.ftran(q, w)
		leaving := e.basis[r]
		target := e.ub[leaving]
		if lower {
			target = e.lb[leaving]
		}
		e.move(q, (e.x[leaving]-target)/w[r], w)
		if lower {
			e.setNonbasic(leaving, atLower)
		} else {
			e.setNonbasic(leaving, atUpper)
		}
		e.basis[r] = q
		e.stat[q] = isBasic
		e.pivot(r, w)
		e.iters++
	}
}

// coldSolve starts from the slack basis, adding artificial columns for the
// rows whose slack cannot absorb the residual, and runs both phases.
func (e *lpEngine) coldSolve(ctx context.Context) (lpResult, error) {
	e.viaDual = false
	for j := 0; j < e.n; j++ {
		e.setNonbasic(j, e.normalize(j, atLower))
	}
	resid := make([]float64, e.rows)
	copy(resid, e.b)
	for j := 0; j < e.n; j++ {
		if xj := e.x[j]; xj != 0 {
			for _, en := range e.m.vars[j].entries {
				resid[en.row] -= en.coef * xj
			}
		}
	}

	e.binv = mat.NewDense(e.rows, e.rows, nil)
	needPhase1 := false
	for i := range resid {
		s, a := e.slack(i), e.artificial(i)
		e.lb[a], e.ub[a] = 0, 0
		if resid[i] >= e.lb[s]-e.cfg.feasTol && resid[i] <= e.ub[s]+e.cfg.feasTol {
			e.artSign[i] = 1
			e.setNonbasic(a, atLower)
			e.basis[i] = s
			e.stat[s] = isBasic
			e.x[s] = resid[i]
			e.binv.Set(i, i, 1)
			continue
		}
		if resid[i] < e.lb[s] {
			e.setNonbasic(s, atLower)
		} else {
			e.setNonbasic(s, atUpper)
		}
		gap := resid[i] - e.x[s]
		e.artSign[i] = 1
		if gap < 0 {
			e.artSign[i] = -1
		}
		e.ub[a] = Inf
		e.basis[i] = a
		e.stat[a] = isBasic
		e.x[a] = math.Abs(gap)
		e.binv.Set(i, i, e.artSign[i])
		needPhase1 = true
	}
	e.pivots = 0

	if needPhase1 {
		c1 := make([]float64, len(e.cost))
		for i := 0; i < e.rows; i++ {
			c1[e.artificial(i)] = 1
		}
		if _, err := e.primal(ctx, c1); err != nil {
			return lpUnknown, err
		}
		var infeas float64
		for i := 0; i < e.rows; i++ {
			infeas += e.x[e.artificial(i)]
		}
		if infeas > phase1Tol {
			e.farkas = make([]float64, e.rows)
			e.duals(c1, e.farkas)
			return lpInfeasible, nil
		}
		for i := 0; i < e.rows; i++ {
			a := e.artificial(i)
			e.ub[a] = 0
			if e.stat[a] != isBasic {
				e.setNonbasic(a, atLower)
			}
		}
	}
	return e.primal(ctx, e.cost)
}

// warmSolve restarts from the basis stored by the previous solve, repairs
// dual feasibility where bounds allow it and runs the dual simplex method.
func (e *lpEngine) warmSolve(ctx context.Context) (lpResult, error) {
	ws := &e.m.warm
	if !ws.valid || ws.nStruct != e.n || ws.nRows > e.rows {
		return lpUnknown, errNoWarmStart
	}
	copy(e.basis, ws.basis)
	copy(e.stat, ws.stat)
	copy(e.artSign, ws.artSign)
	for i := ws.nRows; i < e.rows; i++ {
		e.basis[i] = e.slack(i)
		e.stat[e.slack(i)] = isBasic
		e.stat[e.artificial(i)] = atLower
		e.artSign[i] = 1
	}
	for i := 0; i < e.rows; i++ {
		a := e.artificial(i)
		e.lb[a], e.ub[a] = 0, 0
	}
	for j, s := range e.stat {
		if s != isBasic {
			e.setNonbasic(j, e.normalize(j, s))
		}
	}
	if err := e.refactor(); err != nil {
		return lpUnknown, err
	}

	y := e.scratchY
	e.duals(e.cost, y)
	repaired := false
	for j, s := range e.stat {
		if s == isBasic || e.lb[j] == e.ub[j] {
			continue
		}
		d := e.cost[j] - e.dot(j, y)
		switch {
		case d < -dualFeasTol && s != atUpper:
			if math.IsInf(e.ub[j], 1) {
				return lpUnknown, errNoWarmStart
			}
			e.setNonbasic(j, atUpper)
			repaired = true
		case d > dualFeasTol && s != atLower:
			if math.IsInf(e.lb[j], -1) {
				return lpUnknown, errNoWarmStart
			}
			e.setNonbasic(j, atLower)
			repaired = true
		}
	}
	if repaired {
		e.computeBasics()
	}

	res, err := e.dual(ctx, e.cost)
	if err != nil || res != lpOptimal {
		return res, err
	}
	return e.primal(ctx, e.cost)
}

func (e *lpEngine) solveUnconstrained() lpSolution {
	x := make([]float64, e.n)
	obj := e.m.objConst
	for j := 0; j < e.n; j++ {
		c, lo, hi := e.cost[j], e.lb[j], e.ub[j]
		switch {
		case c > 0 && math.IsInf(lo, -1), c < 0 && math.IsInf(hi, 1):
			return lpSolution{result: lpUnbounded}
		case c > 0:
			x[j] = lo
		case c < 0:
			x[j] = hi
		case !math.IsInf(lo, -1):
			x[j] = lo
		case !math.IsInf(hi, 1):
			x[j] = hi
		}
		obj += c * x[j]
	}
	return lpSolution{result: lpOptimal, x: x, obj: obj, duals: []float64{}}
}

func (e *lpEngine) solution(res lpResult) lpSolution {
	out := lpSolution{result: res}
	switch res {
	case lpOptimal:
		out.x = make([]float64, e.n)
		copy(out.x, e.x[:e.n])
		obj := e.m.objConst
		for j := 0; j < e.n; j++ {
			obj += e.cost[j] * e.x[j]
		}
		out.obj = obj
		out.duals = make([]float64, e.rows)
		e.duals(e.cost, out.duals)
	case lpInfeasible:
		out.farkas = e.farkas
	}
	return out
}

func (e *lpEngine) saveBasis(res lpResult) {
	ws := &e.m.warm
	if res != lpOptimal && !(res == lpInfeasible && e.viaDual) {
		ws.valid = false
		return
	}
	ws.valid = true
	ws.nStruct = e.n
	ws.nRows = e.rows
	ws.basis = append(ws.basis[:0], e.basis...)
	ws.stat = append(ws.stat[:0], e.stat...)
	ws.artSign = append(ws.artSign[:0], e.artSign...)
}

// solveRelaxation solves the linear relaxation of the model under the given
// column bounds, reusing the previous basis when possible.
func (m *Model) solveRelaxation(ctx context.Context, lb, ub []float64) (lpSolution, error) {
	e := newEngine(m, lb, ub)
	if e.rows == 0 {
		return e.solveUnconstrained(), nil
	}
	if m.warm.valid {
		res, err := e.warmSolve(ctx)
		m.stats.Iterations += e.iters
		if err == nil {
			e.saveBasis(res)
			return e.solution(res), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return lpSolution{}, ctxErr
		}
		e = newEngine(m, lb, ub)
	}
	res, err := e.coldSolve(ctx)
	m.stats.Iterations += e.iters
	if err != nil {
		m.warm.valid = false
		if errors.Is(err, ErrIterationLimit) || errors.Is(err, errSingularBasis) {
			return lpSolution{result: lpUnknown}, nil
		}
		return lpSolution{}, err
	}
	e.saveBasis(res)
	return e.solution(res), nil
}
