package duration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/coxph/cholesky"
	"github.com/kshedden/coxph/statmodel"
)

var (
	// ErrSingularScoreTest is returned with the score test when the
	// information matrix at the starting values is rank deficient.
	ErrSingularScoreTest = errors.New("information matrix is singular at the starting values")

	// ErrNoVcov is returned by tests that need the covariance matrix
	// of the estimates when it is not available, as for L1 penalized fits.
	ErrNoVcov = errors.New("covariance matrix is not available")
)

// PHResults stores the results of fitting a proportional hazards
// regression model.
type PHResults struct {
	statmodel.BaseResults

	method FitMethod

	// Log-likelihood at the starting values
	initLoglike float64

	// Score vector at the estimates
	score []float64

	history    []float64
	iterations int
	halvings   int
	stepHalved bool
	status     Status
	rank       int
	nonneg     bool

	sctest     float64
	sctestRank int
}

// TestResult is the outcome of a chi-square test.
type TestResult struct {
	Statistic float64
	DF        int
	PValue    float64
}

func chi2Test(stat float64, df int) TestResult {
	tr := TestResult{
		Statistic: stat,
		DF:        df,
		PValue:    1,
	}
	if df > 0 {
		tr.PValue = distuv.ChiSquared{K: float64(df)}.Survival(stat)
	}
	return tr
}

// Status returns the way in which the fit ended.
func (rslt *PHResults) Status() Status {
	return rslt.status
}

// Iterations returns the number of iterations, including step-halving
// iterations.
func (rslt *PHResults) Iterations() int {
	return rslt.iterations
}

// Halvings returns the total number of step-halving iterations.
func (rslt *PHResults) Halvings() int {
	return rslt.halvings
}

// StepHalved is true if the final step of a Newton-Raphson fit had to
// be shortened.
func (rslt *PHResults) StepHalved() bool {
	return rslt.stepHalved
}

// Rank returns the numerical rank of the information matrix at the
// estimates.
func (rslt *PHResults) Rank() int {
	return rslt.rank
}

// NonNeg is false if the information matrix at the estimates was found
// not to be non-negative definite.
func (rslt *PHResults) NonNeg() bool {
	return rslt.nonneg
}

// Score returns the score vector at the estimates.
func (rslt *PHResults) Score() []float64 {
	return rslt.score
}

// InitLogLike returns the log-likelihood at the starting values, which
// is the null log-likelihood when starting from zero.
func (rslt *PHResults) InitLogLike() float64 {
	return rslt.initLoglike
}

// LogLikePath returns the log-likelihood at the starting values and
// after each accepted Newton-Raphson step.
func (rslt *PHResults) LogLikePath() []float64 {
	return rslt.history
}

// ScoreTest returns the score test of the hypothesis that the
// coefficients equal their starting values.  The test is returned
// together with ErrSingularScoreTest if the information matrix at the
// starting values was rank deficient.
func (rslt *PHResults) ScoreTest() (TestResult, error) {
	tr := chi2Test(rslt.sctest, rslt.sctestRank)
	if rslt.sctestRank < len(rslt.Params()) {
		return tr, ErrSingularScoreTest
	}
	return tr, nil
}

// LikelihoodRatioTest returns the likelihood ratio test comparing the
// fitted model to the model at the starting values.
func (rslt *PHResults) LikelihoodRatioTest() TestResult {
	return chi2Test(2*(rslt.LogLike()-rslt.initLoglike), rslt.rank)
}

// WaldTest returns the Wald test of the hypothesis that all
// coefficients are zero.
func (rslt *PHResults) WaldTest() (TestResult, error) {

	vcov := rslt.VCov()
	if vcov == nil {
		return TestResult{}, ErrNoVcov
	}

	p := len(rslt.Params())
	if p == 0 {
		return chi2Test(0, 0), nil
	}

	v := mat.NewDense(p, p, nil)
	v.Copy(mat.NewDense(p, p, vcov))
	fac := cholesky.Decompose(v, rslt.Model().(*PHReg).cholTol)

	return chi2Test(cholesky.QuadForm(fac, rslt.Params()), fac.Rank()), nil
}

// PHSummary summarizes a fitted proportional hazards regression model.
type PHSummary struct {

	// The model
	ph *PHReg

	// The results structure
	results *PHResults

	// Messages that are appended to the table
	messages []string
}

// Summary displays a summary table of the model results.
func (rslt *PHResults) Summary() *PHSummary {

	ph := rslt.Model().(*PHReg)

	return &PHSummary{
		ph:      ph,
		results: rslt,
	}
}

// String returns a string representation of a summary table for the model.
func (phs *PHSummary) String() string {

	ph := phs.ph
	rslt := phs.results

	sum := &statmodel.SummaryTable{
		Title: "Proportional hazards regression analysis",
		Msg:   phs.messages,
	}

	sum.Top = []string{
		fmt.Sprintf("  Sample size: %10d", ph.NumObs()),
		fmt.Sprintf("  Strata:      %10d", len(ph.strata)),
		fmt.Sprintf("  Events:      %10d", ph.nevent),
		fmt.Sprintf("  Ties:        %10s", ph.ties),
		fmt.Sprintf("  Method:      %10s", rslt.method),
		fmt.Sprintf("  Iterations:  %10d", rslt.iterations),
		fmt.Sprintf("  Log-like:    %10.4f", rslt.LogLike()),
		fmt.Sprintf("  Status:      %10s", rslt.status),
	}

	fs := statmodel.StringFmter
	fn := statmodel.FloatFmter("%10.4f")

	// Hazard ratios can be huge when the estimates diverge.
	fe := statmodel.FloatFmter("%10.4g")

	params := rslt.Params()
	hr := make([]float64, len(params))
	for j, b := range params {
		hr[j] = math.Exp(b)
	}

	if rslt.StdErr() != nil {
		lcb, ucb := rslt.ConfInt(0.95)
		for j := range lcb {
			lcb[j] = math.Exp(lcb[j])
			ucb[j] = math.Exp(ucb[j])
		}
		sum.ColNames = []string{"Variable   ", "Coefficient", "SE", "HR", "LCB", "UCB", "Z-score", "P-value"}
		sum.ColFmt = []statmodel.Fmter{fs, fn, fn, fe, fe, fe, fn, fn}
		sum.Cols = []interface{}{rslt.Names(), params, rslt.StdErr(), hr, lcb, ucb,
			rslt.ZScores(), rslt.PValues()}
	} else {
		sum.ColNames = []string{"Variable   ", "Coefficient", "HR"}
		sum.ColFmt = []statmodel.Fmter{fs, fn, fe}
		sum.Cols = []interface{}{rslt.Names(), params, hr}
	}

	lrt := rslt.LikelihoodRatioTest()
	sum.Msg = append(sum.Msg, fmt.Sprintf("Likelihood ratio test: %10.3f on %d df, p=%.4g", lrt.Statistic, lrt.DF, lrt.PValue))
	if wt, err := rslt.WaldTest(); err == nil {
		sum.Msg = append(sum.Msg, fmt.Sprintf("Wald test:             %10.3f on %d df, p=%.4g", wt.Statistic, wt.DF, wt.PValue))
	}
	sct, err := rslt.ScoreTest()
	sum.Msg = append(sum.Msg, fmt.Sprintf("Score test:            %10.3f on %d df, p=%.4g", sct.Statistic, sct.DF, sct.PValue))
	if err != nil {
		sum.Msg = append(sum.Msg, fmt.Sprintf("Score test: %v", err))
	}

	for j, bad := range rslt.InvalidStdErr() {
		if bad {
			sum.Msg = append(sum.Msg, fmt.Sprintf("Standard error of '%s' could not be computed", rslt.Names()[j]))
		}
	}

	if ph.entry != nil {
		var pe int
		for _, e := range ph.entry {
			if e > 0 {
				pe++
			}
		}
		sum.Msg = append(sum.Msg, fmt.Sprintf("%d observations have positive entry times", pe))
	}

	if ph.skipZeroLength > 0 {
		msg := fmt.Sprintf("%d observations dropped for having equal entry and exit times", ph.skipZeroLength)
		sum.Msg = append(sum.Msg, msg)
	}

	return sum.String()
}
