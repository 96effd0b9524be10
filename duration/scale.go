package duration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/coxph/statmodel"
)

// covScale holds the centering and scaling that is applied to the
// covariates during Newton-Raphson fitting.  A scaled covariate is
// (x - mean) * scale, so a coefficient b for x corresponds to the
// coefficient b / scale for the scaled covariate.
type covScale struct {
	mean  []float64
	scale []float64
}

// scaleCovariates returns the working copy of the covariates and the
// transformation that produced it.  With NoScale the covariates are
// returned without copying.
func (ph *PHReg) scaleCovariates() ([][]float64, *covScale) {

	p := len(ph.x)
	cs := &covScale{
		mean:  make([]float64, p),
		scale: make([]float64, p),
	}
	for j := range cs.scale {
		cs.scale[j] = 1
	}

	if ph.scaleType == statmodel.NoScale {
		return ph.x, cs
	}

	var wsum float64
	for _, w := range ph.weight {
		wsum += w
	}

	xs := make([][]float64, p)
	for j, x := range ph.x {

		var m float64
		if ph.scaleType != statmodel.L2Norm {
			for i, v := range x {
				m += ph.weight[i] * v
			}
			m /= wsum
		}

		var s float64
		for i, v := range x {
			u := v - m
			switch ph.scaleType {
			case statmodel.L2Norm:
				s += u * u
			case statmodel.Variance:
				s += ph.weight[i] * u * u
			case statmodel.MeanAbsDev:
				s += ph.weight[i] * math.Abs(u)
			}
		}

		switch ph.scaleType {
		case statmodel.L2Norm:
			s = math.Sqrt(s)
		case statmodel.Variance:
			s = math.Sqrt(s / wsum)
		case statmodel.MeanAbsDev:
			s /= wsum
		}

		// Constant columns are left unscaled.
		if s > 0 && !math.IsInf(s, 0) {
			cs.scale[j] = 1 / s
		}
		cs.mean[j] = m

		xs[j] = make([]float64, len(x))
		for i, v := range x {
			xs[j][i] = (v - m) * cs.scale[j]
		}
	}

	return xs, cs
}

// toScaled returns the coefficients on the scaled covariates that
// correspond to beta.
func (cs *covScale) toScaled(beta []float64) []float64 {
	b := make([]float64, len(beta))
	for j := range beta {
		b[j] = beta[j] / cs.scale[j]
	}
	return b
}

// fromScaled transforms scaled coefficients back to the original
// covariates, in place.
func (cs *covScale) fromScaled(beta []float64) {
	for j := range beta {
		beta[j] *= cs.scale[j]
	}
}

// fromScaledScore transforms a score vector back to the original
// covariates, in place.
func (cs *covScale) fromScaledScore(score []float64) {
	for j := range score {
		score[j] /= cs.scale[j]
	}
}

// fromScaledVcov transforms a covariance matrix of the scaled
// coefficients back to the original covariates, in place.
func (cs *covScale) fromScaledVcov(v *mat.Dense) {
	p := len(cs.scale)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			v.Set(i, j, v.At(i, j)*cs.scale[i]*cs.scale[j])
		}
	}
}
