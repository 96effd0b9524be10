package duration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coxph/cholesky"
)

// Status describes how a fit ended.
type Status int

// StatusConverged means the relative change in the log-likelihood fell
// below the tolerance.  StatusMaxIter means the iteration budget was
// exhausted first.  StatusSingular means the information matrix was
// rank deficient or not non-negative definite, or the log-likelihood
// could not be evaluated at the starting values; the coefficients in
// the deficient directions are then not estimable.
const (
	StatusConverged Status = iota
	StatusMaxIter
	StatusSingular
)

// String returns a short description of the status.
func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIter:
		return "iteration limit reached"
	case StatusSingular:
		return "singular"
	default:
		return "unknown"
	}
}

// fitState holds the outcome of a Newton-Raphson fit, in the units of
// the original covariates.
type fitState struct {
	beta  []float64
	score []float64
	vcov  *mat.Dense

	// Log-likelihood at the starting values and at beta
	loglik [2]float64

	// Log-likelihood at the starting values and after each accepted step
	history []float64

	iter       int
	halvings   int
	stepHalved bool
	status     Status
	rank       int
	nonneg     bool

	// Score test at the starting values, and the rank of the
	// information matrix used to compute it
	sctest     float64
	sctestRank int
}

// newSquare returns a p x p zero matrix; p may be zero.
func newSquare(p int) *mat.Dense {
	if p == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(p, p, nil)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// relChange is the relative change of the log-likelihood from ll0 to ll1.
func relChange(ll0, ll1 float64) float64 {
	return math.Abs(ll1-ll0) / math.Max(math.Abs(ll1), math.SmallestNonzeroFloat64)
}

// newtonRaphson maximizes the (penalized) log partial likelihood
// starting from start, which is given for the original covariates.
func (ph *PHReg) newtonRaphson(start []float64) *fitState {

	p := len(ph.x)
	xs, cs := ph.scaleCovariates()
	ev := newEvaluator(ph, xs)
	log := ph.log

	eval := func(beta, score []float64, info *mat.Dense) float64 {
		ll := ev.eval(beta, score, info)
		return ph.penalized(ll, beta, score, info, cs)
	}

	beta := cs.toScaled(start)
	newbeta := make([]float64, p)
	step := make([]float64, p)
	score := make([]float64, p)
	info := newSquare(p)

	st := new(fitState)
	st.loglik[0] = eval(beta, score, info)
	st.loglik[1] = st.loglik[0]
	st.history = append(st.history, st.loglik[0])

	// The score test and the first step share a factorization.
	fac := cholesky.Decompose(info, ph.cholTol)
	copy(step, score)
	fac.Solve(step)
	st.sctest = floats.Dot(step, score)
	st.sctestRank = fac.Rank()

	log.Debug("starting values", "loglike", st.loglik[0], "scoretest", st.sctest, "rank", fac.Rank())

	finite0 := isFinite(st.loglik[0])
	if !finite0 {
		log.Warn("log-likelihood is not finite at the starting values")
	}

	converged := false
	if finite0 && ph.maxIter > 0 {

		floats.AddTo(newbeta, beta, step)

		var halving int
		for iter := 1; iter <= ph.maxIter; iter++ {
			st.iter = iter

			newll := eval(newbeta, score, info)
			ok := isFinite(newll) && allFinite(score) && allFinite(info.RawMatrix().Data)
			if ok {
				fac = cholesky.Decompose(info, ph.cholTol)
			}

			if ok && relChange(st.loglik[1], newll) <= ph.eps {
				if newll >= st.loglik[1] {
					copy(beta, newbeta)
					st.loglik[1] = newll
					st.history = append(st.history, newll)
				} else {
					st.loglik[1] = eval(beta, score, info)
					fac = cholesky.Decompose(info, ph.cholTol)
				}
				st.stepHalved = halving > 0
				converged = true
				log.Debug("converged", "iteration", iter, "loglike", st.loglik[1])
				break
			}

			if !ok || newll < st.loglik[1] {
				halving++
				st.halvings++
				h := float64(halving)
				for j := range newbeta {
					newbeta[j] = (newbeta[j] + h*beta[j]) / (h + 1)
				}
				log.Warn("step halving", "iteration", iter, "loglike", newll, "halving", halving)
				continue
			}

			halving = 0
			copy(beta, newbeta)
			st.loglik[1] = newll
			st.history = append(st.history, newll)
			copy(step, score)
			fac.Solve(step)
			floats.AddTo(newbeta, beta, step)
			log.Debug("iteration", "iteration", iter, "loglike", newll, "rank", fac.Rank())
		}

		if !converged {
			// The score and information may belong to a rejected step.
			st.loglik[1] = eval(beta, score, info)
			fac = cholesky.Decompose(info, ph.cholTol)
			log.Warn("iteration limit reached", "maxiter", ph.maxIter, "loglike", st.loglik[1])
		}
	}

	st.rank = fac.Rank()
	st.nonneg = fac.NonNeg()
	switch {
	case !finite0 || st.rank < p || !st.nonneg:
		st.status = StatusSingular
		log.Warn("information matrix is singular", "rank", st.rank, "nonneg", st.nonneg)
	case converged:
		st.status = StatusConverged
	default:
		st.status = StatusMaxIter
	}

	st.vcov = fac.Inverse()
	cs.fromScaled(beta)
	cs.fromScaledScore(score)
	cs.fromScaledVcov(st.vcov)
	st.beta = beta
	st.score = score

	return st
}
