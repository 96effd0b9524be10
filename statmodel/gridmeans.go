package statmodel

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// advance takes a variable base representation of an integer and adds one to it.
// The arrays nvals and ix should have the same length, and the allowed values in
// ix[j] are 0, 1, ..., nvals[j]-1.
func advance(ix []int, nvals []int) bool {

	for j := range ix {
		if ix[j] < nvals[j]-1 {
			ix[j]++
			return false
		}
		ix[j] = 0
	}
	return true
}

// GMrecord represents the fitted linear predictor of a regression
// model and its standard error, taken at a specific point in the
// covariate space.
type GMrecord struct {

	// A description of the point where the value applies
	Name GMname

	// The fitted linear predictor
	Mean float64

	// The standard error of the fitted linear predictor
	SE float64

	// The point in the covariate space where the value applies
	Vec []float64
}

type byMean []*GMrecord

func (a byMean) Len() int           { return len(a) }
func (a byMean) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byMean) Less(i, j int) bool { return a[i].Mean < a[j].Mean }

// GridMeanResult is the result of a grid mean calculation.
type GridMeanResult struct {
	Records []*GMrecord
	p       int
	vcov    []float64
}

// GMname represents the name and location of a grid point.
type GMname struct {

	// The variable names
	names []string

	// The values of the variables
	vals []float64
}

// Value returns the value of the named grid variable at the point.
func (gn *GMname) Value(name string) (float64, bool) {
	for i, na := range gn.names {
		if na == name {
			return gn.vals[i], true
		}
	}
	return 0, false
}

func (gn *GMname) String() string {
	var b []string
	for i, na := range gn.names {
		b = append(b, fmt.Sprintf("%s=%s", na, strconv.FormatFloat(gn.vals[i], 'g', 6, 64)))
	}
	return strings.Join(b, ", ")
}

// Summary returns a table of the grid points with their fitted values
// and standard errors.
func (gmr *GridMeanResult) Summary() string {

	var labels []string
	var mn, se []float64
	for _, r := range gmr.Records {
		labels = append(labels, r.Name.String())
		mn = append(mn, r.Mean)
		se = append(se, r.SE)
	}

	fn := FloatFmter("%12.4f")
	tab := &SummaryTable{
		Title:    "Fitted linear predictor",
		ColNames: []string{"Group", "Mean", "SE"},
		ColFmt:   []Fmter{StringFmter, fn, fn},
		Cols:     []interface{}{labels, mn, se},
	}

	return tab.String()
}

// PairContrastRecord contains the results of statistically contrasting
// fitted points corresponding to two points in the covariate space of a
// regression model.
type PairContrastRecord struct {

	// The first point being contrasted
	Rec1 *GMrecord

	// The second point being contrasted
	Rec2 *GMrecord

	// The difference of fitted values at the two contrasted points
	Diff float64

	// The standard error of the difference
	SE float64
}

// PairContrastResult holds contrasts between pairs of grid points
// that differ only in one variable.
type PairContrastResult struct {

	// Each record corresponds to one pair of points to contrast
	Records []*PairContrastRecord

	// The number of covariates
	p int

	// The variance covariance matrix of the parameters
	vcov []float64
}

func (pc *PairContrastResult) init() {

	p := pc.p
	vcov := pc.vcov

	for _, r := range pc.Records {

		r.Diff = r.Rec1.Mean - r.Rec2.Mean

		if vcov == nil {
			r.SE = math.NaN()
			continue
		}

		var va float64
		for j1 := 0; j1 < p; j1++ {
			q1 := r.Rec1.Vec[j1] - r.Rec2.Vec[j1]
			for j2 := 0; j2 < p; j2++ {
				q2 := r.Rec1.Vec[j2] - r.Rec2.Vec[j2]
				va += q1 * vcov[j1*p+j2] * q2
			}
		}
		r.SE = math.Sqrt(va)
	}
}

// Summary returns a table of the contrasts.
func (pc *PairContrastResult) Summary() string {

	var labels []string
	var diff, se []float64
	for _, r := range pc.Records {
		labels = append(labels, fmt.Sprintf("(%s) - (%s)", r.Rec1.Name.String(), r.Rec2.Name.String()))
		diff = append(diff, r.Diff)
		se = append(se, r.SE)
	}

	fn := FloatFmter("%12.4f")
	tab := &SummaryTable{
		Title:    "Contrasts of the fitted linear predictor",
		ColNames: []string{"Contrast", "Difference", "SE"},
		ColFmt:   []Fmter{StringFmter, fn, fn},
		Cols:     []interface{}{labels, diff, se},
	}

	return tab.String()
}

// PairContrast pairs the grid points at which the variable vname is
// equal to v1 and v2, and the other grid variables agree.
func (gmr *GridMeanResult) PairContrast(v1, v2 float64, vname string) *PairContrastResult {

	// Key each record by the values of the other grid variables.
	key := func(r *GMrecord) string {
		var b strings.Builder
		for i, na := range r.Name.names {
			if na != vname {
				b.WriteString(strconv.FormatFloat(r.Name.vals[i], 'g', -1, 64))
				b.WriteString(",")
			}
		}
		return b.String()
	}

	qr := make(map[string][2]*GMrecord)
	var keys []string
	for _, r := range gmr.Records {

		v, ok := r.Name.Value(vname)
		if !ok {
			continue
		}

		var pos int
		switch v {
		case v1:
			pos = 0
		case v2:
			pos = 1
		default:
			// A value of the focus variable not being contrasted
			continue
		}

		ky := key(r)
		q, ok := qr[ky]
		if !ok {
			keys = append(keys, ky)
		}
		q[pos] = r
		qr[ky] = q
	}

	var pc []*PairContrastRecord
	for _, ky := range keys {
		q := qr[ky]
		if q[0] == nil || q[1] == nil {
			continue
		}
		pc = append(pc, &PairContrastRecord{
			Rec1: q[0],
			Rec2: q[1],
		})
	}

	pcr := &PairContrastResult{
		Records: pc,
		p:       gmr.p,
		vcov:    gmr.vcov,
	}

	pcr.init()

	return pcr
}

// GridMeans constructs a table of fitted values and standard errors for
// the linear predictor of a fitted regression model.  The points
// argument is a map from covariate names to an array of values at
// which the covariate is to be fixed.  Covariates that are not
// included in points are fixed at their mean values in data, weighted
// by weights if it is not nil.  The records are sorted by the fitted
// value.
func GridMeans(points map[string][]float64, rslt BaseResultser, data Dataset, weights []float64) (*GridMeanResult, error) {

	names := rslt.Names()
	isCov := make(map[string]bool)
	for _, na := range names {
		isCov[na] = true
	}
	for na, v := range points {
		if !isCov[na] {
			return nil, fmt.Errorf("GridMeans: '%s' is not a covariate", na)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("GridMeans: no values for '%s'", na)
		}
	}

	var wsum float64
	if weights != nil {
		wsum = floats.Sum(weights)
		if !(wsum > 0) {
			return nil, fmt.Errorf("GridMeans: weights must have a positive sum")
		}
	}

	// arx contains a list of values to consider for each covariate.
	var arx [][]float64
	for _, na := range names {
		if v, ok := points[na]; ok {
			arx = append(arx, v)
			continue
		}
		x := data.Column(na)
		if len(x) == 0 {
			return nil, fmt.Errorf("GridMeans: no data for '%s'", na)
		}
		if weights == nil {
			arx = append(arx, []float64{floats.Sum(x) / float64(len(x))})
			continue
		}
		if len(weights) != len(x) {
			return nil, fmt.Errorf("GridMeans: %d weights for %d observations", len(weights), len(x))
		}
		arx = append(arx, []float64{floats.Dot(weights, x) / wsum})
	}

	// The number of points to consider per covariate
	var np []int
	for _, v := range arx {
		np = append(np, len(v))
	}

	params := rslt.Params()
	vcov := rslt.VCov()
	p := len(names)

	var gmr []*GMrecord
	ix := make([]int, p)
	for {
		r := new(GMrecord)
		r.Vec = make([]float64, p)
		for j := range arx {
			v := arx[j][ix[j]]
			r.Vec[j] = v
			if _, ok := points[names[j]]; ok {
				r.Name.names = append(r.Name.names, names[j])
				r.Name.vals = append(r.Name.vals, v)
			}
		}
		r.Mean, r.SE = predict(r.Vec, params, vcov)
		gmr = append(gmr, r)

		if advance(ix, np) {
			break
		}
	}

	sort.Stable(byMean(gmr))

	return &GridMeanResult{
		Records: gmr,
		p:       p,
		vcov:    vcov,
	}, nil
}

// predict returns the linear predictor at z and its standard error,
// which is NaN when there is no covariance matrix.
func predict(z, params, vcov []float64) (float64, float64) {

	p := len(params)
	lp := floats.Dot(params, z)
	if vcov == nil {
		return lp, math.NaN()
	}

	var va float64
	for j1 := 0; j1 < p; j1++ {
		for j2 := 0; j2 < p; j2++ {
			va += z[j1] * vcov[p*j1+j2] * z[j2]
		}
	}

	return lp, math.Sqrt(va)
}
