package statmodel

import (
	"math"
)

// Focuser restricts a model to one parameter.
type Focuser interface {
	NumParams() int
	NumObs() int

	// Focus returns a one-parameter model for the covariate in the
	// given position, with the remaining covariates fixed at the
	// given coefficients and absorbed into an offset.  The final
	// argument is a buffer that may be used for the offset.
	Focus(int, []float64, []float64) RegFitter

	LogLike(Parameter, bool) float64
	Score(Parameter, []float64)
	Hessian(Parameter, HessType, []float64)
}

// L1Info describes the progress of a coordinate descent fit.
type L1Info struct {

	// Number of complete passes over the covariates
	Iterations int

	// True if the largest coordinate change in the final pass was
	// below the tolerance
	Converged bool
}

// FitL1Reg fits the given model with an L1 penalty using coordinate
// descent, starting from param, which is updated in place and
// returned.  The penalty weight for covariate j is nobs * l1wgt[j].
func FitL1Reg(model Focuser, param Parameter, l1wgt, offset []float64, checkstep bool) (Parameter, L1Info) {

	maxiter := 400

	// A parameter for the 1-d focused model.
	param1d := param.Clone()
	param1d.SetCoeff([]float64{0})

	nvar := model.NumParams()
	nobs := model.NumObs()

	// Since we are using non-normalized log-likelihood, the
	// tolerance can scale with the sample size.
	tol := 1e-7 * float64(nobs)
	if tol > 0.1 {
		tol = 0.1
	}

	coeff := param.GetCoeff()

	var info L1Info
	for info.Iterations < maxiter {
		info.Iterations++

		// L-inf of the increment in the parameter vector
		var px float64

		for j := 0; j < nvar; j++ {
			fmodel := model.Focus(j, coeff, offset)
			np := opt1d(fmodel, coeff[j], param1d, float64(nobs)*l1wgt[j], checkstep)
			if d := math.Abs(np - coeff[j]); d > px {
				px = d
			}
			coeff[j] = np
		}

		if px < tol {
			info.Converged = true
			break
		}
	}

	return param, info
}

// Use a local quadratic approximation, then fall back to a line
// search if needed.
func opt1d(m1 RegFitter, coeff float64, par Parameter, l1wgt float64, checkstep bool) float64 {

	// Quadratic approximation coefficients
	bv := make([]float64, 1)
	par.SetCoeff([]float64{coeff})
	m1.Score(par, bv)
	b := -bv[0]
	cv := make([]float64, 1)
	m1.Hessian(par, ObsHess, cv)
	c := -cv[0]

	// A flat direction cannot move.
	if c <= 0 {
		return coeff
	}

	// The optimum point of the quadratic approximation
	d := b - c*coeff

	if l1wgt > math.Abs(d) {
		// The optimum is achieved by hard thresholding to zero
		return 0
	}

	// coeff + h is the minimizer of Q(x) + l1wgt*abs(x)
	var h float64
	if d >= 0 {
		h = (l1wgt - b) / c
	} else {
		h = -(l1wgt + b) / c
	}

	if !checkstep {
		return coeff + h
	}

	// Wrap the log-likelihood so it takes a scalar argument.
	obj := func(z float64) float64 {
		par.SetCoeff([]float64{z})
		return -m1.LogLike(par, false) + l1wgt*math.Abs(z)
	}

	// Keep the quadratic step if it improves the target function.
	if obj(coeff+h) <= obj(coeff)+1e-10 {
		return coeff + h
	}

	// Fallback for models where the loss is not quadratic
	return bisection(obj, coeff-1, coeff+1, 1e-7)
}

// Standard bisection to minimize f.
func bisection(f func(float64) float64, xl, xu, tol float64) float64 {

	var x0, x1, x2, f0, f1, f2 float64

	// Try to find a bracket.
	success := false
	x0, x2 = xl, xu
	x1 = (x0 + x2) / 2
	for k := 0; k < 100; k++ {

		f0 = f(x0)
		f1 = f(x1)
		f2 = f(x2)

		if f1 < f0 && f1 < f2 {
			success = true
			break
		}

		if f0 > f1 && f1 > f2 {
			// Slide right
			x0 = x1
			x1 = x2
			x2 += 1.5 * (x1 - x0)
			continue
		}

		if f0 < f1 && f1 < f2 {
			// Slide left
			x2 = x1
			x1 = x0
			x0 -= 1.5 * (x2 - x1)
			continue
		}

		x0 = x1 - 2*(x1-x0)
		x2 = x1 + 2*(x2-x1)
	}

	if !success {
		// Return the best point seen.
		switch {
		case f0 <= f1 && f0 <= f2:
			return x0
		case f1 <= f2:
			return x1
		default:
			return x2
		}
	}

	for x2-x0 > tol {
		if x1-x0 > x2-x1 {
			xx := (x0 + x1) / 2
			if ff := f(xx); ff < f1 {
				x2 = x1
				x1, f1 = xx, ff
			} else {
				x0 = xx
			}
		} else {
			xx := (x1 + x2) / 2
			if ff := f(xx); ff < f1 {
				x0 = x1
				x1, f1 = xx, ff
			} else {
				x2 = xx
			}
		}
	}

	return x1
}
