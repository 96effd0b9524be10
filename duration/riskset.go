package duration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Bounds on the linear predictor, so that exp never overflows.
const (
	minLinPred = -200
	maxLinPred = 22
)

// Which moments of the covariates a riskSet accumulates.
const (
	momentNone = iota
	momentFirst
	momentSecond
)

// riskSet holds running sums over the subjects at risk, and over the
// subjects with an event, at the current time within one stratum.
// The second moments are stored row-major in p x p slices, only the
// lower triangle is used.
type riskSet struct {
	p     int
	order int

	nrisk int
	denom float64
	m1    []float64
	m2    []float64

	ndeath int
	deadwt float64
	dlp    float64
	dwx    []float64
	edenom float64
	dm1    []float64
	dm2    []float64

	mean []float64
}

func newRiskSet(p int) *riskSet {
	return &riskSet{
		p:    p,
		m1:   make([]float64, p),
		m2:   make([]float64, p*p),
		dwx:  make([]float64, p),
		dm1:  make([]float64, p),
		dm2:  make([]float64, p*p),
		mean: make([]float64, p),
	}
}

// reset empties the risk set, at the start of a stratum.
func (rs *riskSet) reset() {
	rs.nrisk = 0
	rs.denom = 0
	zero(rs.m1)
	zero(rs.m2)
	rs.clearDeaths()
}

func (rs *riskSet) clearDeaths() {
	rs.ndeath = 0
	rs.deadwt = 0
	rs.dlp = 0
	rs.edenom = 0
	zero(rs.dwx)
	zero(rs.dm1)
	zero(rs.dm2)
}

// add enters a subject with the given risk score and covariates.
func (rs *riskSet) add(r float64, x []float64) {
	rs.nrisk++
	rs.denom += r
	if rs.order >= momentFirst {
		floats.AddScaled(rs.m1, r, x)
	}
	if rs.order >= momentSecond {
		addOuter(rs.m2, r, x)
	}
}

// remove takes a subject out of the risk set.  The sums are set to
// exactly zero when the last subject leaves.
func (rs *riskSet) remove(r float64, x []float64) {
	rs.nrisk--
	if rs.nrisk == 0 {
		rs.denom = 0
		zero(rs.m1)
		zero(rs.m2)
		return
	}
	rs.denom -= r
	if rs.order >= momentFirst {
		floats.AddScaled(rs.m1, -r, x)
	}
	if rs.order >= momentSecond {
		addOuter(rs.m2, -r, x)
	}
}

// addDeath records an event for a subject that is already in the risk
// set, with case weight w and linear predictor eta.
func (rs *riskSet) addDeath(w, eta, r float64, x []float64) {
	rs.ndeath++
	rs.deadwt += w
	rs.dlp += w * eta
	rs.edenom += r
	if rs.order >= momentFirst {
		floats.AddScaled(rs.dwx, w, x)
		floats.AddScaled(rs.dm1, r, x)
	}
	if rs.order >= momentSecond {
		addOuter(rs.dm2, r, x)
	}
}

// addOuter adds r * x xᵀ to the lower triangle of m.
func addOuter(m []float64, r float64, x []float64) {
	p := len(x)
	for j := 0; j < p; j++ {
		u := r * x[j]
		for k := 0; k <= j; k++ {
			m[j*p+k] += u * x[k]
		}
	}
}

// evaluator computes the log partial likelihood and its derivatives
// for one set of covariate columns.  It holds the work space for one
// fit and must not be shared between goroutines.
type evaluator struct {
	ph   *PHReg
	x    [][]float64
	eta  []float64
	risk []float64
	row  []float64
	rs   *riskSet
}

func newEvaluator(ph *PHReg, x [][]float64) *evaluator {
	n := len(ph.time)
	return &evaluator{
		ph:   ph,
		x:    x,
		eta:  make([]float64, n),
		risk: make([]float64, n),
		row:  make([]float64, len(x)),
		rs:   newRiskSet(len(x)),
	}
}

// linpred computes the clamped linear predictor and the risk scores.
func (ev *evaluator) linpred(beta []float64) {
	ph := ev.ph
	copy(ev.eta, ph.offset)
	for j, b := range beta {
		floats.AddScaled(ev.eta, b, ev.x[j])
	}
	for i, e := range ev.eta {
		e = math.Max(minLinPred, math.Min(maxLinPred, e))
		ev.eta[i] = e
		ev.risk[i] = ph.weight[i] * math.Exp(e)
	}
}

func (ev *evaluator) fillRow(i int) {
	for j, x := range ev.x {
		ev.row[j] = x[i]
	}
}

// eval returns the log partial likelihood at beta.  If score is not
// nil it is overwritten with the score vector, and if info is not nil
// it is overwritten with the information matrix (the negative Hessian).
func (ev *evaluator) eval(beta, score []float64, info *mat.Dense) float64 {

	ph := ev.ph
	rs := ev.rs

	ev.linpred(beta)

	rs.order = momentNone
	if score != nil {
		rs.order = momentFirst
		zero(score)
	}
	if info != nil {
		rs.order = momentSecond
		info.Zero()
	}

	var ll float64
	for _, st := range ph.strata {
		rs.reset()
		var q int
		for k := 0; k < len(st.byExit); {

			// Enter everyone who leaves at time t.
			t := ph.time[st.byExit[k]]
			rs.clearDeaths()
			for ; k < len(st.byExit) && ph.time[st.byExit[k]] == t; k++ {
				i := st.byExit[k]
				ev.fillRow(i)
				rs.add(ev.risk[i], ev.row)
				if ph.status[i] == 1 && ph.weight[i] > 0 {
					rs.addDeath(ph.weight[i], ev.eta[i], ev.risk[i], ev.row)
				}
			}

			if rs.ndeath == 0 {
				continue
			}

			// Remove everyone who entered at or after t.
			for ; q < len(st.byEntry) && ph.entry[st.byEntry[q]] >= t; q++ {
				i := st.byEntry[q]
				ev.fillRow(i)
				rs.remove(ev.risk[i], ev.row)
			}

			ll += ph.ties.update(rs, score, info)
		}
	}

	if info != nil {
		p := len(ev.x)
		for j := 0; j < p; j++ {
			for k := 0; k < j; k++ {
				info.Set(k, j, info.At(j, k))
			}
		}
	}

	return ll
}

// zero sets all elements of the slice to 0
func zero(x []float64) {
	for i := range x {
		x[i] = 0
	}
}
