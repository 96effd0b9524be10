// Package duration fits proportional hazards (Cox) regression models
// to duration data, which may be stratified, weighted, offset and left
// truncated.
package duration

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/kshedden/coxph/cholesky"
	"github.com/kshedden/coxph/statmodel"
)

// PHParameter contains a parameter value for a proportional hazards
// regression model.
type PHParameter struct {
	coeff []float64
}

// GetCoeff returns the array of model coefficients from a parameter value.
func (p *PHParameter) GetCoeff() []float64 {
	return p.coeff
}

// SetCoeff sets the array of model coefficients for a parameter value.
func (p *PHParameter) SetCoeff(x []float64) {
	p.coeff = x
}

// Clone returns a deep copy of the parameter value.
func (p *PHParameter) Clone() statmodel.Parameter {
	q := make([]float64, len(p.coeff))
	copy(q, p.coeff)
	return &PHParameter{q}
}

// FitMethod selects the algorithm used to maximize the partial likelihood.
type FitMethod int

// NewtonRaphson uses Newton-Raphson iterations with step halving,
// Gradient uses a Gonum optimizer (see PHRegConfig.OptMethod).
// Models with an L1 penalty are always fit by coordinate descent.
const (
	NewtonRaphson FitMethod = iota
	Gradient
	CoordinateDescent
)

// String returns the name of the fitting method.
func (fm FitMethod) String() string {
	switch fm {
	case NewtonRaphson:
		return "newton"
	case Gradient:
		return "gradient"
	case CoordinateDescent:
		return "l1"
	default:
		return fmt.Sprintf("FitMethod(%d)", int(fm))
	}
}

// ParseFitMethod returns the fitting method with the given name.
func ParseFitMethod(name string) (FitMethod, error) {
	for _, fm := range []FitMethod{NewtonRaphson, Gradient, CoordinateDescent} {
		if fm.String() == strings.ToLower(name) {
			return fm, nil
		}
	}
	return NewtonRaphson, fmt.Errorf("unknown fit method '%s'", name)
}

// stratum holds the processing order of the cases in one stratum.
type stratum struct {

	// The stratum code in the data
	label int

	// Case indices in descending order of exit time
	byExit []int

	// Case indices in descending order of entry time, nil if there
	// are no entry times
	byEntry []int

	nevent int
}

// PHReg describes a proportional hazards regression model for
// duration data.  A PHReg is not modified by fitting, so several
// Newton-Raphson or coordinate descent fits may run concurrently on one
// value.  Gradient fits share the optimizer in PHRegConfig.OptMethod and
// must not overlap.
type PHReg struct {

	// The names of the variables.  The order agrees with the order of 'data'.
	varnames []string

	// The data to which the model is fit
	data [][]statmodel.Dtype

	// The positions and names of the covariates in data
	xpos   []int
	xnames []string

	// Per-case variables.  The entry times are nil if not provided,
	// weight and offset are always present.
	time   []float64
	status []float64
	entry  []float64
	weight []float64
	offset []float64

	// The covariates, x[j] is the j'th covariate
	x [][]float64

	// Position of each case's stratum in strata
	stratumPos []int
	strata     []stratum

	// skip[i] is true if case i has equal entry and exit times, it
	// is never at risk.
	skip           []bool
	skipZeroLength int

	nevent int

	ties      Ties
	maxIter   int
	eps       float64
	cholTol   float64
	start     []float64
	scaleType statmodel.ScaleType
	fitMethod FitMethod

	// The penalty used by the likelihood, score and Hessian, combining
	// the ridge weights with any user supplied penalty
	penalty Penalty

	// L2 (ridge) weights for each variable
	l2wgtMap map[string]float64
	l2wgt    []float64

	// L1 (lasso) weights for each variable
	l1wgtMap map[string]float64
	l1wgt    []float64

	// Optimization settings
	optsettings *optimize.Settings

	// Optimization method
	optmethod optimize.Method

	log *slog.Logger
}

// NumObs returns the number of observations in the data set.
func (ph *PHReg) NumObs() int {
	return len(ph.time)
}

// NumParams returns the number of model parameters (regression coefficients).
func (ph *PHReg) NumParams() int {
	return len(ph.x)
}

// Dataset returns the data columns that are used to fit the model.
func (ph *PHReg) Dataset() [][]statmodel.Dtype {
	return ph.data
}

// Xpos return the positions of the covariates in the model's data.
func (ph *PHReg) Xpos() []int {
	return ph.xpos
}

// StrataLabels returns the stratum codes, in the order used by
// BaselineCumHaz.
func (ph *PHReg) StrataLabels() []int {
	var labels []int
	for _, st := range ph.strata {
		labels = append(labels, st.label)
	}
	return labels
}

// NumEvents returns the number of cases with an event.
func (ph *PHReg) NumEvents() int {
	return ph.nevent
}

// PHRegConfig defines configuration parameters for a proportional hazards regression.
type PHRegConfig struct {

	// Logger receives progress and diagnostic messages.  If nil,
	// nothing is logged.
	Logger *slog.Logger

	// Start contains starting values for the regression parameter
	// estimates, the default is zero.
	Start []float64

	// WeightVar is the name of the variable for frequency-weighting the cases, if an empty
	// string, all weights are equal to 1.
	WeightVar string

	// OffsetVar is the name of a variable that defines an offset.
	OffsetVar string

	// StrataVar is the name of a variable that defines strata.  The
	// values must be non-negative integers.
	StrataVar string

	// EntryVar is the name of a variable that defines entry (left truncation) times.
	// A case is at risk at time t if entry < t <= exit.
	EntryVar string

	// Ties is the method for handling tied event times.
	Ties Ties

	// MaxIter is the maximum number of Newton-Raphson iterations.
	MaxIter int

	// Eps is the convergence tolerance for the relative change in
	// the log-likelihood.
	Eps float64

	// CholTol is the relative tolerance below which a pivot of the
	// information matrix is treated as zero.
	CholTol float64

	// Scale determines how the covariates are scaled during
	// Newton-Raphson fitting.
	Scale statmodel.ScaleType

	// Penalty is an optional penalty subtracted from the log-likelihood.
	Penalty Penalty

	L1Penalty map[string]float64
	L2Penalty map[string]float64

	// FitMethod is the algorithm used when there is no L1 penalty.
	FitMethod FitMethod

	// OptMethod is the Gonum optimization used to fit the model
	// when FitMethod is Gradient.
	OptMethod optimize.Method

	// OptSettings configures the Gonum optimization routine.
	OptSettings *optimize.Settings
}

// DefaultPHRegConfig returns a default configuration struct for a proportional hazards regression.
func DefaultPHRegConfig() *PHRegConfig {

	return &PHRegConfig{
		Ties:      Efron,
		MaxIter:   20,
		Eps:       1e-9,
		CholTol:   1e-9,
		Scale:     statmodel.MeanAbsDev,
		FitMethod: NewtonRaphson,
		OptMethod: &optimize.BFGS{
			Linesearcher: &optimize.MoreThuente{},
		},
	}
}

// NewPHReg returns a PHReg value that can be used to fit a
// proportional hazards regression model.  The time variable holds the
// exit times and the status variable is 1 for an event and 0 for
// censoring.  Errors describing unusable data wrap ErrInvalidData.
func NewPHReg(data statmodel.Dataset, time, status string, predictors []string, config *PHRegConfig) (*PHReg, error) {

	if config == nil {
		config = DefaultPHRegConfig()
	}

	ph := &PHReg{
		data:        data.Data(),
		varnames:    data.Names(),
		xnames:      predictors,
		ties:        config.Ties,
		maxIter:     config.MaxIter,
		eps:         config.Eps,
		cholTol:     config.CholTol,
		scaleType:   config.Scale,
		fitMethod:   config.FitMethod,
		l1wgtMap:    config.L1Penalty,
		l2wgtMap:    config.L2Penalty,
		optsettings: config.OptSettings,
		optmethod:   config.OptMethod,
		log:         config.Logger,
	}

	if ph.log == nil {
		ph.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := ph.setupColumns(data, time, status, predictors, config); err != nil {
		return nil, err
	}

	if err := ph.setupConfig(config); err != nil {
		return nil, err
	}

	ph.sortByStratum()

	return ph, nil
}

// LogLike returns the log partial likelihood at the given parameter
// value, less any penalty.
func (ph *PHReg) LogLike(param statmodel.Parameter, exact bool) float64 {
	beta := param.GetCoeff()
	ev := newEvaluator(ph, ph.x)
	ll := ev.eval(beta, nil, nil)
	return ph.penalized(ll, beta, nil, nil, nil)
}

// Score computes the score vector (the gradient of LogLike) at the
// given parameter value, and writes it into score.
func (ph *PHReg) Score(param statmodel.Parameter, score []float64) {
	beta := param.GetCoeff()
	ev := newEvaluator(ph, ph.x)
	ll := ev.eval(beta, score, nil)
	ph.penalized(ll, beta, score, nil, nil)
}

// Hessian computes the Hessian matrix of LogLike at the given
// parameter value, and writes it into hess in row-major order.  The
// observed and expected Hessians coincide for this model.
func (ph *PHReg) Hessian(param statmodel.Parameter, ht statmodel.HessType, hess []float64) {

	p := ph.NumParams()
	if p == 0 {
		return
	}

	beta := param.GetCoeff()
	ev := newEvaluator(ph, ph.x)
	info := mat.NewDense(p, p, hess)
	ll := ev.eval(beta, nil, info)
	ph.penalized(ll, beta, nil, info, nil)

	// Information is the negative Hessian.
	floats.Scale(-1, hess)
}

// Focus returns a new model with only the covariate in position pos.
// The other covariates are fixed at the values in coeff and absorbed
// into the offset, for which the offset slice is used if it is large
// enough.  The ridge weight of the retained covariate is kept, other
// penalties are dropped.
func (ph *PHReg) Focus(pos int, coeff []float64, offset []float64) statmodel.RegFitter {

	fph := *ph

	fph.x = [][]float64{ph.x[pos]}
	fph.xpos = []int{ph.xpos[pos]}
	fph.xnames = []string{ph.xnames[pos]}
	fph.start = []float64{coeff[pos]}

	// These are not used for coordinate optimization
	fph.optsettings = nil
	fph.optmethod = nil
	fph.l1wgtMap = nil
	fph.l1wgt = nil

	nobs := ph.NumObs()
	if cap(offset) < nobs {
		offset = make([]float64, nobs)
	}
	offset = offset[0:nobs]
	copy(offset, ph.offset)
	for j, x := range ph.x {
		if j != pos {
			floats.AddScaled(offset, coeff[j], x)
		}
	}
	fph.offset = offset

	fph.penalty = nil
	if ph.l2wgt != nil {
		fph.l2wgt = []float64{ph.l2wgt[pos]}
		fph.penalty = &RidgePenalty{Weights: fph.l2wgt}
	}

	return &fph
}

// Fit fits the model to the data.  The returned error is non-nil only
// if the optimizer used by the Gradient method fails; numerical
// problems with the Newton-Raphson method are reported through the
// Status of the results.
func (ph *PHReg) Fit() (*PHResults, error) {

	start := make([]float64, ph.NumParams())
	if ph.start != nil {
		copy(start, ph.start)
	}

	switch {
	case ph.l1wgt != nil:
		return ph.fitRegularized(start), nil
	case ph.fitMethod == Gradient:
		return ph.fitGradient(start)
	default:
		return ph.fitNewton(start), nil
	}
}

func (ph *PHReg) fitNewton(start []float64) *PHResults {

	st := ph.newtonRaphson(start)

	p := ph.NumParams()
	vcov := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vcov[i*p+j] = st.vcov.At(i, j)
		}
	}

	return &PHResults{
		BaseResults: statmodel.NewBaseResults(ph, st.loglik[1], st.beta, ph.xnames, vcov),
		method:      NewtonRaphson,
		initLoglike: st.loglik[0],
		score:       st.score,
		history:     st.history,
		iterations:  st.iter,
		halvings:    st.halvings,
		stepHalved:  st.stepHalved,
		status:      st.status,
		rank:        st.rank,
		nonneg:      st.nonneg,
		sctest:      st.sctest,
		sctestRank:  st.sctestRank,
	}
}

// initial returns the log-likelihood and the score test at the
// starting values, for the methods that do not compute them as part
// of the iterations.
func (ph *PHReg) initial(start []float64) (float64, float64, int) {

	p := ph.NumParams()
	score := make([]float64, p)
	info := newSquare(p)

	ev := newEvaluator(ph, ph.x)
	ll := ev.eval(start, score, info)
	ll = ph.penalized(ll, start, score, info, nil)

	fac := cholesky.Decompose(info, ph.cholTol)
	return ll, cholesky.QuadForm(fac, score), fac.Rank()
}

// informationRank returns the rank of the information matrix and
// whether it is non-negative definite.
func (ph *PHReg) informationRank(beta []float64) (int, bool) {
	p := ph.NumParams()
	info := newSquare(p)
	ev := newEvaluator(ph, ph.x)
	ll := ev.eval(beta, nil, info)
	ph.penalized(ll, beta, nil, info, nil)
	fac := cholesky.Decompose(info, ph.cholTol)
	return fac.Rank(), fac.NonNeg()
}

func (ph *PHReg) fitGradient(start []float64) (*PHResults, error) {

	p := optimize.Problem{
		Func: func(x []float64) float64 {
			return -ph.LogLike(&PHParameter{x}, false)
		},
		Grad: func(grad, x []float64) {
			ph.Score(&PHParameter{x}, grad)
			floats.Scale(-1, grad)
		},
	}

	settings := ph.optsettings
	if settings == nil {
		settings = &optimize.Settings{
			GradientThreshold: 1e-5,
		}
	}

	ll0, sctest, sctestRank := ph.initial(start)

	optrslt, err := optimize.Minimize(p, start, settings, ph.optmethod)
	if err != nil {
		if optrslt == nil {
			return nil, err
		}

		// Return partial results with the error
		ph.failMessage(optrslt)
		results := &PHResults{
			BaseResults: statmodel.NewBaseResults(ph, -optrslt.F, optrslt.X, ph.xnames, nil),
			method:      Gradient,
			initLoglike: ll0,
			iterations:  optrslt.MajorIterations,
			status:      StatusMaxIter,
			sctest:      sctest,
			sctestRank:  sctestRank,
		}
		return results, err
	}

	param := make([]float64, len(optrslt.X))
	copy(param, optrslt.X)
	ll := -optrslt.F

	status := StatusConverged
	if optrslt.Status.Err() != nil {
		status = StatusMaxIter
	}
	rank, nonneg := ph.informationRank(param)
	if rank < len(param) || !nonneg {
		status = StatusSingular
	}

	vcov, err := statmodel.GetVcov(ph, &PHParameter{param})
	if err != nil {
		ph.log.Warn("covariance matrix not available", "error", err)
	}

	score := make([]float64, len(param))
	ph.Score(&PHParameter{param}, score)

	results := &PHResults{
		BaseResults: statmodel.NewBaseResults(ph, ll, param, ph.xnames, vcov),
		method:      Gradient,
		initLoglike: ll0,
		score:       score,
		history:     []float64{ll0, ll},
		iterations:  optrslt.MajorIterations,
		status:      status,
		rank:        rank,
		nonneg:      nonneg,
		sctest:      sctest,
		sctestRank:  sctestRank,
	}

	return results, nil
}

// failMessage logs the state of a failed optimization.
func (ph *PHReg) failMessage(optrslt *optimize.Result) {

	for j, x := range optrslt.X {
		ph.log.Error("optimization failed", "variable", ph.xnames[j], "value", x, "gradient", optrslt.Gradient[j])
	}

	for k, st := range ph.strata {
		ph.log.Error("stratum", "position", k, "label", st.label, "size", len(st.byExit), "events", st.nevent)
	}
}

func (ph *PHReg) fitRegularized(start []float64) *PHResults {

	ll0, sctest, sctestRank := ph.initial(start)

	par := &PHParameter{coeff: start}
	offset := make([]float64, ph.NumObs())
	_, info := statmodel.FitL1Reg(ph, par, ph.l1wgt, offset, true)
	coeff := par.GetCoeff()

	status := StatusConverged
	if !info.Converged {
		status = StatusMaxIter
	}

	// The rank counts the selected covariates.
	var rank int
	for _, b := range coeff {
		if b != 0 {
			rank++
		}
	}

	ll := ph.LogLike(par, false)

	return &PHResults{
		BaseResults: statmodel.NewBaseResults(ph, ll, coeff, ph.xnames, nil),
		method:      CoordinateDescent,
		initLoglike: ll0,
		history:     []float64{ll0, ll},
		iterations:  info.Iterations,
		status:      status,
		rank:        rank,
		nonneg:      true,
		sctest:      sctest,
		sctestRank:  sctestRank,
	}
}
