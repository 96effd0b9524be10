package duration

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// BaselineCumHaz returns the Breslow estimate of the baseline
// cumulative hazard function for the stratum in the given position
// (see StrataLabels), evaluated at the given coefficients.  The
// baseline corresponds to covariates and offset equal to zero.  The
// first returned slice holds the distinct event times in increasing
// order, the second the cumulative hazard at those times.
func (ph *PHReg) BaselineCumHaz(stratum int, params []float64) ([]float64, []float64) {

	if stratum < 0 || stratum >= len(ph.strata) {
		msg := fmt.Sprintf("BaselineCumHaz: stratum position %d out of range", stratum)
		panic(msg)
	}

	ev := newEvaluator(ph, ph.x)
	ev.linpred(params)
	rs := ev.rs
	rs.order = momentNone
	rs.reset()

	st := ph.strata[stratum]
	var times, haz []float64
	var q int
	for k := 0; k < len(st.byExit); {

		t := ph.time[st.byExit[k]]
		rs.clearDeaths()
		for ; k < len(st.byExit) && ph.time[st.byExit[k]] == t; k++ {
			i := st.byExit[k]
			rs.add(ev.risk[i], nil)
			if ph.status[i] == 1 && ph.weight[i] > 0 {
				rs.addDeath(ph.weight[i], ev.eta[i], ev.risk[i], nil)
			}
		}

		if rs.ndeath == 0 {
			continue
		}

		for ; q < len(st.byEntry) && ph.entry[st.byEntry[q]] >= t; q++ {
			rs.remove(ev.risk[st.byEntry[q]], nil)
		}

		times = append(times, t)
		haz = append(haz, rs.deadwt/rs.denom)
	}

	// Reverse into increasing time order and accumulate.
	m := len(times)
	for i := 0; i < m/2; i++ {
		times[i], times[m-1-i] = times[m-1-i], times[i]
		haz[i], haz[m-1-i] = haz[m-1-i], haz[i]
	}
	for i := 1; i < m; i++ {
		haz[i] += haz[i-1]
	}

	return times, haz
}

// cumHazAt returns the step function H evaluated at t.
func cumHazAt(times, haz []float64, t float64) float64 {
	k := sort.SearchFloat64s(times, t)
	if k < len(times) && times[k] == t {
		return haz[k]
	}
	if k == 0 {
		return 0
	}
	return haz[k-1]
}

// MartingaleResid returns the martingale residuals at the given
// coefficients, status minus the estimated cumulative hazard of the
// case over its time at risk.  Cases that are never at risk have
// residual zero.
func (ph *PHReg) MartingaleResid(params []float64) []float64 {

	type cumhaz struct {
		times, haz []float64
	}
	bch := make([]cumhaz, len(ph.strata))
	for k := range ph.strata {
		ti, h := ph.BaselineCumHaz(k, params)
		bch[k] = cumhaz{ti, h}
	}

	ev := newEvaluator(ph, ph.x)
	ev.linpred(params)

	resid := make([]float64, ph.NumObs())
	for i := range resid {
		if ph.skip[i] {
			continue
		}
		ch := bch[ph.stratumPos[i]]
		h := cumHazAt(ch.times, ch.haz, ph.time[i])
		if ph.entry != nil {
			h -= cumHazAt(ch.times, ch.haz, ph.entry[i])
		}
		resid[i] = ph.status[i] - h*ph.risk(ev, i)
	}

	return resid
}

// risk returns exp(eta) for case i without the case weight.
func (ph *PHReg) risk(ev *evaluator, i int) float64 {
	if ph.weight[i] > 0 {
		return ev.risk[i] / ph.weight[i]
	}
	return 0
}

// BaselineHazPlotter is used to plot baseline cumulative hazard functions.
type BaselineHazPlotter struct {
	plt *plot.Plot

	labels []string

	lines []*plotter.Line

	width  vg.Length
	height vg.Length
}

// NewBaselineHazPlotter returns a default BaselineHazPlotter.
func NewBaselineHazPlotter() *BaselineHazPlotter {
	return &BaselineHazPlotter{
		plt:    plot.New(),
		width:  4,
		height: 4,
	}
}

// Width sets the width of the plot in inches.
func (bp *BaselineHazPlotter) Width(w float64) *BaselineHazPlotter {
	bp.width = vg.Length(w)
	return bp
}

// Height sets the height of the plot in inches.
func (bp *BaselineHazPlotter) Height(h float64) *BaselineHazPlotter {
	bp.height = vg.Length(h)
	return bp
}

// Add adds a cumulative hazard function, as returned by
// BaselineCumHaz, to the plot.
func (bp *BaselineHazPlotter) Add(times, cumhaz []float64, label string) error {

	pts := make(plotter.XYs, len(times)+1)
	for i := range times {
		pts[i+1].X = times[i]
		pts[i+1].Y = cumhaz[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.StepStyle = plotter.PostStep
	line.Color = plotutil.Color(len(bp.lines))

	bp.lines = append(bp.lines, line)
	bp.labels = append(bp.labels, label)

	return nil
}

// Plot constructs the plot and returns it.
func (bp *BaselineHazPlotter) Plot() *plot.Plot {

	bp.plt.Y.Min = 0
	bp.plt.X.Label.Text = "Time"
	bp.plt.Y.Label.Text = "Cumulative hazard"

	for i, line := range bp.lines {
		bp.plt.Add(line)
		if len(bp.lines) > 1 {
			bp.plt.Legend.Add(bp.labels[i], line)
		}
	}
	bp.plt.Legend.Top = true
	bp.plt.Legend.Left = true

	return bp.plt
}

// Save writes the plot to the given file, the format is determined by
// the file extension.
func (bp *BaselineHazPlotter) Save(fname string) error {
	return bp.Plot().Save(bp.width*vg.Inch, bp.height*vg.Inch, fname)
}
