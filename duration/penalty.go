package duration

import (
	"gonum.org/v1/gonum/mat"
)

// Penalty is subtracted from the log partial likelihood during
// Newton-Raphson fitting.  It is evaluated on the coefficients of the
// original (unscaled) covariates.
type Penalty interface {

	// Eval returns the penalty at beta, and writes its gradient into
	// grad and the diagonal of its Hessian into hess.
	Eval(beta, grad, hess []float64) float64
}

// RidgePenalty is the L2 penalty sum_j Weights[j] * beta[j]^2.
type RidgePenalty struct {
	Weights []float64
}

// Eval implements Penalty.
func (rp *RidgePenalty) Eval(beta, grad, hess []float64) float64 {
	var pen float64
	for j, b := range beta {
		w := rp.Weights[j]
		pen += w * b * b
		grad[j] = 2 * w * b
		hess[j] = 2 * w
	}
	return pen
}

// penaltySum adds several penalties.
type penaltySum []Penalty

func (ps penaltySum) Eval(beta, grad, hess []float64) float64 {
	g := make([]float64, len(beta))
	h := make([]float64, len(beta))
	zero(grad)
	zero(hess)
	var pen float64
	for _, t := range ps {
		pen += t.Eval(beta, g, h)
		for j := range beta {
			grad[j] += g[j]
			hess[j] += h[j]
		}
	}
	return pen
}

// penalized applies the model's penalty to a log-likelihood, score and
// information (score and info may be nil).  The coefficients are on the
// scale given by cs, which is nil for the original covariates.
func (ph *PHReg) penalized(ll float64, beta, score []float64, info *mat.Dense, cs *covScale) float64 {

	if ph.penalty == nil {
		return ll
	}

	p := len(beta)
	ob := make([]float64, p)
	grad := make([]float64, p)
	hess := make([]float64, p)
	copy(ob, beta)
	if cs != nil {
		cs.fromScaled(ob)
	}

	ll -= ph.penalty.Eval(ob, grad, hess)

	for j := 0; j < p; j++ {
		s := 1.0
		if cs != nil {
			s = cs.scale[j]
		}
		if score != nil {
			score[j] -= grad[j] * s
		}
		if info != nil {
			info.Set(j, j, info.At(j, j)+hess[j]*s*s)
		}
	}

	return ll
}
