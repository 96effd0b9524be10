package duration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// eventSums holds, for one stratum and in increasing time order, the
// distinct event times with the covariate mean and the hazard
// increments used by the residuals.  Cumulative sums carry a leading
// zero, so ca[k] is the sum over the first k event times.
type eventSums struct {
	times []float64

	// Mean of the covariates over the risk set, averaged over the
	// Efron steps
	xbar [][]float64

	// Hazard increments for subjects at risk, and for the subjects
	// with an event at that time
	a, ad []float64
	b, bd [][]float64

	ca []float64
	cb [][]float64
}

// pos returns the number of event times that are not after t.
func (es *eventSums) pos(t float64) int {
	return sort.Search(len(es.times), func(k int) bool { return es.times[k] > t })
}

// eventSums makes one pass over each stratum at the given
// coefficients.
func (ph *PHReg) eventSums(ev *evaluator) []*eventSums {

	p := len(ph.x)
	rs := ev.rs
	rs.order = momentFirst

	var all []*eventSums
	for _, st := range ph.strata {
		rs.reset()
		es := new(eventSums)
		var q int
		for k := 0; k < len(st.byExit); {

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

			for ; q < len(st.byEntry) && ph.entry[st.byEntry[q]] >= t; q++ {
				i := st.byEntry[q]
				ev.fillRow(i)
				rs.remove(ev.risk[i], ev.row)
			}

			nstep, wt := 1, rs.deadwt
			if ph.ties == Efron && rs.ndeath > 1 {
				nstep = rs.ndeath
				wt = rs.deadwt / float64(nstep)
			}

			var a, ad float64
			xbar := make([]float64, p)
			b := make([]float64, p)
			bd := make([]float64, p)
			for s := 0; s < nstep; s++ {
				f := float64(s) / float64(nstep)
				d2 := rs.denom - f*rs.edenom
				for j := 0; j < p; j++ {
					rs.mean[j] = (rs.m1[j] - f*rs.dm1[j]) / d2
				}
				a += wt / d2
				ad += wt * (1 - f) / d2
				floats.AddScaled(xbar, wt, rs.mean)
				floats.AddScaled(b, wt/d2, rs.mean)
				floats.AddScaled(bd, wt*(1-f)/d2, rs.mean)
			}
			floats.Scale(1/rs.deadwt, xbar)

			es.times = append(es.times, t)
			es.xbar = append(es.xbar, xbar)
			es.a = append(es.a, a)
			es.ad = append(es.ad, ad)
			es.b = append(es.b, b)
			es.bd = append(es.bd, bd)
		}

		// Reverse into increasing time order.
		m := len(es.times)
		for i, j := 0, m-1; i < j; i, j = i+1, j-1 {
			es.times[i], es.times[j] = es.times[j], es.times[i]
			es.xbar[i], es.xbar[j] = es.xbar[j], es.xbar[i]
			es.a[i], es.a[j] = es.a[j], es.a[i]
			es.ad[i], es.ad[j] = es.ad[j], es.ad[i]
			es.b[i], es.b[j] = es.b[j], es.b[i]
			es.bd[i], es.bd[j] = es.bd[j], es.bd[i]
		}

		es.ca = make([]float64, m+1)
		es.cb = make([][]float64, m+1)
		es.cb[0] = make([]float64, p)
		for i := 0; i < m; i++ {
			es.ca[i+1] = es.ca[i] + es.a[i]
			es.cb[i+1] = make([]float64, p)
			floats.AddTo(es.cb[i+1], es.cb[i], es.b[i])
		}

		all = append(all, es)
	}

	return all
}

// isEvent is true if case i is an event that enters the likelihood.
func (ph *PHReg) isEvent(i int) bool {
	return !ph.skip[i] && ph.status[i] == 1 && ph.weight[i] > 0
}

// SchoenfeldResid returns the Schoenfeld residuals at the given
// coefficients as an n x p matrix.  Row i is the covariate vector of
// case i minus the mean covariate vector over its risk set, averaged
// over the Efron steps when there are tied events.  Rows of cases
// without an event are NaN.  The weighted column sums equal the score.
// The result is nil if there are no covariates.
func (ph *PHReg) SchoenfeldResid(params []float64) *mat.Dense {

	n, p := ph.NumObs(), len(ph.x)
	if p == 0 {
		return nil
	}

	ev := newEvaluator(ph, ph.x)
	ev.linpred(params)
	sums := ph.eventSums(ev)

	resid := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		if !ph.isEvent(i) {
			for j := 0; j < p; j++ {
				resid.Set(i, j, math.NaN())
			}
			continue
		}
		es := sums[ph.stratumPos[i]]
		k := es.pos(ph.time[i]) - 1
		for j := 0; j < p; j++ {
			resid.Set(i, j, ph.x[j][i]-es.xbar[k][j])
		}
	}

	return resid
}

// ScoreResid returns the score residuals at the given coefficients as
// an n x p matrix.  Row i is the contribution of case i to the score
// (without its case weight), the Schoenfeld residual of an event less
// the covariate deviations weighted by the hazard over the time the
// case is at risk.  The weighted column sums equal the score.  Cases
// that are never at risk have zero residuals.  The result is nil if
// there are no covariates.
func (ph *PHReg) ScoreResid(params []float64) *mat.Dense {

	n, p := ph.NumObs(), len(ph.x)
	if p == 0 {
		return nil
	}

	ev := newEvaluator(ph, ph.x)
	ev.linpred(params)
	sums := ph.eventSums(ev)

	resid := mat.NewDense(n, p, nil)
	bi := make([]float64, p)
	for i := 0; i < n; i++ {
		if ph.skip[i] {
			continue
		}
		es := sums[ph.stratumPos[i]]

		// Event times in (entry, exit]
		k1 := es.pos(ph.time[i])
		var k0 int
		if ph.entry != nil {
			k0 = es.pos(ph.entry[i])
		}
		ai := es.ca[k1] - es.ca[k0]
		floats.SubTo(bi, es.cb[k1], es.cb[k0])

		// An event sees only part of the hazard at its own time.
		event := ph.isEvent(i)
		if event {
			ai += es.ad[k1-1] - es.a[k1-1]
			floats.Add(bi, es.bd[k1-1])
			floats.Sub(bi, es.b[k1-1])
		}

		e := math.Exp(ev.eta[i])
		for j := 0; j < p; j++ {
			x := ph.x[j][i]
			u := -e * (x*ai - bi[j])
			if event {
				u += x - es.xbar[k1-1][j]
			}
			resid.Set(i, j, u)
		}
	}

	return resid
}
