package duration

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/coxph/statmodel"
)

// SimConfig describes synthetic survival data with a Weibull baseline
// hazard and independent standard normal covariates.
type SimConfig struct {

	// Number of cases
	N int

	// Coefficients of the covariates, one covariate is generated per
	// coefficient
	Coeff []float64

	// Shape and scale of the Weibull baseline distribution, a shape
	// of 1 gives exponential event times
	Shape float64
	Scale float64

	// Rate of the exponential censoring distribution, measured from
	// the entry time.  Zero means no censoring.
	CensorRate float64

	// If positive, entry times are uniform on [0, MaxEntry) and the
	// event times are drawn conditionally on exceeding the entry time.
	MaxEntry float64

	// If greater than 1, cases are assigned to this many strata in turn
	NumStrata int

	// Seed for the random number generator
	Seed uint64
}

// Simulate generates data from a proportional hazards model.  The
// columns are "time", "status", optionally "entry" and "stratum", then
// the covariates "x1", "x2", ....  The same configuration always
// produces the same data.
func Simulate(cfg SimConfig) (statmodel.Dataset, error) {

	if cfg.N <= 0 {
		return statmodel.Dataset{}, fmt.Errorf("simulate: N must be positive, got %d", cfg.N)
	}
	if !(cfg.Shape > 0) || !(cfg.Scale > 0) {
		return statmodel.Dataset{}, fmt.Errorf("simulate: Weibull shape and scale must be positive")
	}
	if cfg.CensorRate < 0 || cfg.MaxEntry < 0 {
		return statmodel.Dataset{}, fmt.Errorf("simulate: censoring rate and maximum entry time must be non-negative")
	}

	src := rand.NewSource(cfg.Seed)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}
	cens := distuv.Exponential{Rate: cfg.CensorRate, Src: src}

	p := len(cfg.Coeff)
	n := cfg.N
	x := make([][]statmodel.Dtype, p)
	for j := range x {
		x[j] = make([]statmodel.Dtype, n)
	}
	time := make([]statmodel.Dtype, n)
	status := make([]statmodel.Dtype, n)
	entry := make([]statmodel.Dtype, n)
	strata := make([]statmodel.Dtype, n)

	for i := 0; i < n; i++ {

		var lp float64
		for j := range x {
			x[j][i] = norm.Rand()
			lp += cfg.Coeff[j] * x[j][i]
		}

		// exp(lp) multiplies the hazard, which rescales a Weibull
		// distribution by exp(-lp / shape).
		wb := distuv.Weibull{
			K:      cfg.Shape,
			Lambda: cfg.Scale * math.Exp(-lp/cfg.Shape),
		}

		if cfg.MaxEntry > 0 {
			entry[i] = cfg.MaxEntry * unif.Rand()
		}

		// Draw from the event time distribution conditional on
		// exceeding the entry time.
		u := 1 - unif.Rand()
		t := wb.Quantile(1 - wb.Survival(entry[i])*u)
		if t <= entry[i] {
			t = math.Nextafter(entry[i], math.Inf(1))
		}

		time[i] = t
		status[i] = 1
		if cfg.CensorRate > 0 {
			if c := entry[i] + cens.Rand(); c < t {
				time[i] = c
				status[i] = 0
			}
		}

		if cfg.NumStrata > 1 {
			strata[i] = statmodel.Dtype(i % cfg.NumStrata)
		}
	}

	da := [][]statmodel.Dtype{time, status}
	names := []string{"time", "status"}
	if cfg.MaxEntry > 0 {
		da = append(da, entry)
		names = append(names, "entry")
	}
	if cfg.NumStrata > 1 {
		da = append(da, strata)
		names = append(names, "stratum")
	}
	for j := range x {
		da = append(da, x[j])
		names = append(names, fmt.Sprintf("x%d", j+1))
	}

	return statmodel.NewDataset(da, names), nil
}
