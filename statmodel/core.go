// Package statmodel holds the plumbing shared by the regression models:
// data columns, parameters, the fitter interface, the standard
// inferential results and the text summary table.
package statmodel

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dtype is the storage type of a data column.
type Dtype = float64

// HessType indicates the type of a Hessian matrix for a log-likelihood.
type HessType int

// ObsHess (observed Hessian) and ExpHess (expected Hessian) are the two type of log-likelihood
// Hessian matrices
const (
	ObsHess HessType = iota
	ExpHess
)

// ScaleType defines the way that the covariates are scaled prior to fitting a model.  This
// scaling is hidden from the caller, the results are back-transformed after fitting.
type ScaleType int

// NoScale indicates that covariates are not internally scaled prior to fitting, L2Norm
// indicates that each covariate is scaled to have unit L2Norm prior to fitting, Variance
// indicates that each covariate is centered and scaled to have unit variance, and MeanAbsDev
// indicates that each covariate is centered and scaled to have unit mean absolute deviation.
// Covariates that do not vary are never scaled.
const (
	NoScale ScaleType = iota
	L2Norm
	Variance
	MeanAbsDev
)

// String returns the name of the scaling method.
func (st ScaleType) String() string {
	switch st {
	case NoScale:
		return "none"
	case L2Norm:
		return "l2norm"
	case Variance:
		return "variance"
	case MeanAbsDev:
		return "meanabsdev"
	default:
		return fmt.Sprintf("ScaleType(%d)", int(st))
	}
}

// ParseScaleType returns the ScaleType with the given name.
func ParseScaleType(name string) (ScaleType, error) {
	for _, st := range []ScaleType{NoScale, L2Norm, Variance, MeanAbsDev} {
		if st.String() == strings.ToLower(name) {
			return st, nil
		}
	}
	return NoScale, fmt.Errorf("unknown scale type '%s'", name)
}

// Parameter is the parameter of a model.
type Parameter interface {

	// Get the coefficients of the covariates in the linear
	// predictor.  The returned value should be a reference so
	// that changes to it lead to corresponding changes in the
	// parameter itself.
	GetCoeff() []float64

	// Set the coefficients of the covariates in the linear
	// predictor.
	SetCoeff([]float64)

	// Clone creates a deep copy of the Parameter struct.
	Clone() Parameter
}

// RegFitter is a regression model that can be fit to data.
type RegFitter interface {

	// Number of parameters in the model.
	NumParams() int

	// Number of observations in the data set
	NumObs() int

	// Positions of the covariates
	Xpos() []int

	Dataset() [][]Dtype

	// The log-likelihood function
	LogLike(Parameter, bool) float64

	// The score vector
	Score(Parameter, []float64)

	// The Hessian matrix
	Hessian(Parameter, HessType, []float64)
}

// BaseResultser is a fitted model that can produce results (parameter estimates, etc.).
type BaseResultser interface {
	Model() RegFitter
	Names() []string
	LogLike() float64
	Params() []float64
	VCov() []float64
	StdErr() []float64
	ZScores() []float64
	PValues() []float64
}

// BaseResults contains the results after fitting a model to data.
type BaseResults struct {
	model   RegFitter
	loglike float64
	params  []float64
	xnames  []string
	vcov    []float64
	stderr  []float64
	invalid []bool
	zscores []float64
	pvalues []float64
}

// NewBaseResults returns a BaseResults corresponding to the given fitted model.
// The variance/covariance matrix is vectorized in row-major order, and may
// be nil if it is not available.
func NewBaseResults(model RegFitter, loglike float64, params []float64, xnames []string, vcov []float64) BaseResults {
	return BaseResults{
		model:   model,
		loglike: loglike,
		params:  params,
		xnames:  xnames,
		vcov:    vcov,
	}
}

// Model produces the model value used to produce the results.
func (rslt *BaseResults) Model() RegFitter {
	return rslt.model
}

// FittedValues returns the fitted linear predictor for a regression
// model.  If da is nil, the fitted values are based on the data used
// to fit the model.  Otherwise the provided columns are used, so they
// must be laid out in the same way as the training data.
func (rslt *BaseResults) FittedValues(da [][]Dtype) []float64 {

	xpos := rslt.model.Xpos()

	if da == nil {
		// Use training data to get the fitted values
		da = rslt.model.Dataset()
	}

	if len(da) != len(rslt.model.Dataset()) {
		msg := fmt.Sprintf("Data has incorrect number of columns, %d != %d\n",
			len(da), len(rslt.model.Dataset()))
		panic(msg)
	}

	var n int
	if len(xpos) > 0 {
		n = len(da[xpos[0]])
	} else if len(da) > 0 {
		n = len(da[0])
	}

	fv := make([]float64, n)
	for k, j := range xpos {
		for i, z := range da[j] {
			fv[i] += rslt.params[k] * z
		}
	}

	return fv
}

// Names returns the covariate names for the variables in the model.
func (rslt *BaseResults) Names() []string {
	return rslt.xnames
}

// Params returns the point estimates for the parameters in the model.
func (rslt *BaseResults) Params() []float64 {
	return rslt.params
}

// VCov returns the sampling variance/covariance model for the parameters in the model.
// The matrix is vetorized to one dimension.
func (rslt *BaseResults) VCov() []float64 {
	return rslt.vcov
}

// LogLike returns the log-likelihood or objective function value for the fitted model.
func (rslt *BaseResults) LogLike() float64 {
	return rslt.loglike
}

// StdErr returns the standard errors for the parameters in the model.
// A parameter whose variance is not positive or not finite has a NaN
// standard error, see InvalidStdErr.  A zero variance arises for
// parameters that are aliased in a rank deficient fit.
func (rslt *BaseResults) StdErr() []float64 {

	// No vcov, no standard error
	if rslt.vcov == nil {
		return nil
	}

	if rslt.stderr != nil {
		return rslt.stderr
	}

	p := len(rslt.params)
	rslt.stderr = make([]float64, p)
	rslt.invalid = make([]bool, p)
	for i := range rslt.stderr {
		v := rslt.vcov[i*p+i]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			rslt.stderr[i] = math.NaN()
			rslt.invalid[i] = true
			continue
		}
		rslt.stderr[i] = math.Sqrt(v)
	}

	return rslt.stderr
}

// InvalidStdErr returns a flag for each parameter that is true when
// its standard error could not be computed.
func (rslt *BaseResults) InvalidStdErr() []bool {
	if rslt.StdErr() == nil {
		return nil
	}
	return rslt.invalid
}

// ZScores returns the Z-scores (the parameter estimates divided by the standard errors).
func (rslt *BaseResults) ZScores() []float64 {

	// No vcov, no z-scores
	if rslt.vcov == nil {
		return nil
	}

	if rslt.zscores != nil {
		return rslt.zscores
	}

	std := rslt.StdErr()
	rslt.zscores = make([]float64, len(std))
	for i := range std {
		rslt.zscores[i] = rslt.params[i] / std[i]
	}

	return rslt.zscores
}

func normcdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt(2))
}

// PValues returns the p-values for the null hypothesis that each parameter's population
// value is equal to zero.
func (rslt *BaseResults) PValues() []float64 {

	// No vcov, no p-values
	if rslt.vcov == nil {
		return nil
	}

	if rslt.pvalues != nil {
		return rslt.pvalues
	}

	zs := rslt.ZScores()
	rslt.pvalues = make([]float64, len(zs))
	for i, z := range zs {
		rslt.pvalues[i] = 2 * normcdf(-math.Abs(z))
	}

	return rslt.pvalues
}

// ConfInt returns Wald confidence intervals with the given coverage
// probability for the parameters, as lower and upper limits.
func (rslt *BaseResults) ConfInt(level float64) ([]float64, []float64) {

	if rslt.vcov == nil {
		return nil, nil
	}

	if level <= 0 || level >= 1 {
		msg := fmt.Sprintf("ConfInt: level %f is not between 0 and 1", level)
		panic(msg)
	}

	q := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	std := rslt.StdErr()
	lcb := make([]float64, len(std))
	ucb := make([]float64, len(std))
	for i, s := range std {
		lcb[i] = rslt.params[i] - q*s
		ucb[i] = rslt.params[i] + q*s
	}

	return lcb, ucb
}

// ErrSingularHessian is returned by GetVcov when the Hessian matrix
// cannot be inverted.
var ErrSingularHessian = errors.New("statmodel: Hessian matrix is singular")

// GetVcov returns the sampling variance/covariance matrix for the parameter estimates,
// obtained by inverting the negative Hessian of the log-likelihood.
func GetVcov(model RegFitter, params Parameter) ([]float64, error) {

	nvar := model.NumParams()
	if nvar == 0 {
		return []float64{}, nil
	}

	hess := make([]float64, nvar*nvar)
	model.Hessian(params, ExpHess, hess)
	hmat := mat.NewDense(nvar, nvar, hess)
	hmat.Scale(-1, hmat)

	vcov := make([]float64, nvar*nvar)
	vmat := mat.NewDense(nvar, nvar, vcov)
	if err := vmat.Inverse(hmat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularHessian, err)
	}

	return vcov, nil
}

// SummaryTable holds the summary values for a fitted model.
type SummaryTable struct {

	// Title
	Title string

	// Column names
	ColNames []string

	// Formatters for the column values
	ColFmt []Fmter

	// Cols[j] is the j^th column.  It's concrete type should
	// be an array, e.g. of numbers or strings.
	Cols []interface{}

	// Values at the top of the summary
	Top []string

	// Messages displayed below the table
	Msg []string

	// Total width of the table
	tw int
}

// Fmter formats the elements of an array of values.
type Fmter func(interface{}, string) []string

// FloatFmter formats a []float64 column with the given verb, e.g. "%10.4f".
func FloatFmter(verb string) Fmter {
	return func(x interface{}, _ string) []string {
		var s []string
		for _, v := range x.([]float64) {
			s = append(s, fmt.Sprintf(verb, v))
		}
		return s
	}
}

// StringFmter formats a []string column, left aligned.
func StringFmter(x interface{}, h string) []string {
	vec := x.([]string)
	n := len(h)
	for _, v := range vec {
		if len(v) > n {
			n = len(v)
		}
	}
	var s []string
	for _, v := range vec {
		s = append(s, fmt.Sprintf("%-*s", n, v))
	}
	return s
}

// Draw a line constructed of the given character filling the width of
// the table.
func (s *SummaryTable) line(c string) string {
	return strings.Repeat(c, s.tw) + "\n"
}

// padTop gives all fields in the top part of the table the same width.
func (s *SummaryTable) padTop() int {

	var w int
	for _, x := range s.Top {
		if len(x) > w {
			w = len(x)
		}
	}

	for i, x := range s.Top {
		s.Top[i] = x + strings.Repeat(" ", w-len(x))
	}

	return w
}

// Construct the upper part of the table, which contains summary
// values for the model, two per line.
func (s *SummaryTable) top(gap int) string {

	var b strings.Builder
	for j, x := range s.Top {
		b.WriteString(x)
		if j%2 == 1 {
			b.WriteString("\n")
		} else {
			b.WriteString(strings.Repeat(" ", gap))
		}
	}

	if len(s.Top)%2 == 1 {
		b.WriteString("\n")
	}

	return b.String()
}

// String returns the table as a string.
func (s *SummaryTable) String() string {

	topw := s.padTop()

	var tab [][]string
	var wx []int
	for j, c := range s.Cols {
		u := s.ColFmt[j](c, s.ColNames[j])
		tab = append(tab, u)
		w := len(s.ColNames[j])
		for _, x := range u {
			if len(x) > w {
				w = len(x)
			}
		}
		wx = append(wx, w)
	}

	gap := 10

	// Get the total width of the table
	s.tw = 0
	for _, w := range wx {
		s.tw += w
	}
	if s.tw < len(s.Title) {
		s.tw = len(s.Title)
	}
	if s.tw < gap+2*topw {
		s.tw = gap + 2*topw
	}

	var buf strings.Builder

	// Center the title
	if kr := (s.tw - len(s.Title)) / 2; kr > 0 {
		buf.WriteString(strings.Repeat(" ", kr))
	}
	buf.WriteString(s.Title + "\n")

	buf.WriteString(s.line("="))
	buf.WriteString(s.top(gap))
	buf.WriteString(s.line("-"))

	for j, c := range s.ColNames {
		buf.WriteString(fmt.Sprintf("%*s", wx[j], c))
	}
	buf.WriteString("\n")
	buf.WriteString(s.line("-"))

	var nrow int
	if len(tab) > 0 {
		nrow = len(tab[0])
	}
	for i := 0; i < nrow; i++ {
		for j := range tab {
			buf.WriteString(fmt.Sprintf("%*s", wx[j], tab[j][i]))
		}
		buf.WriteString("\n")
	}
	buf.WriteString(s.line("-"))

	for _, msg := range s.Msg {
		buf.WriteString(msg + "\n")
	}

	return buf.String()
}
