package duration

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ties determines how the partial likelihood treats events that
// occur at the same time.
type Ties int

// Efron uses Efron's approximation for tied event times, Breslow uses
// Breslow's approximation.  The two agree when there are no ties.
const (
	Efron Ties = iota
	Breslow
)

// String returns the name of the ties method.
func (t Ties) String() string {
	switch t {
	case Efron:
		return "Efron"
	case Breslow:
		return "Breslow"
	default:
		return fmt.Sprintf("Ties(%d)", int(t))
	}
}

// ParseTies returns the ties method with the given (case insensitive) name.
func ParseTies(name string) (Ties, error) {
	switch strings.ToLower(name) {
	case "efron":
		return Efron, nil
	case "breslow":
		return Breslow, nil
	}
	return Efron, fmt.Errorf("unknown ties method '%s'", name)
}

// update adds the contribution of the events at the current time to
// the score and information (either of which may be nil), and returns
// the contribution to the log partial likelihood.
func (t Ties) update(rs *riskSet, score []float64, info *mat.Dense) float64 {

	ll := rs.dlp
	if score != nil {
		floats.Add(score, rs.dwx)
	}

	if t == Breslow || rs.ndeath == 1 {
		return ll + rs.step(0, rs.deadwt, score, info)
	}

	// Efron: the k'th of d tied events sees the risk set with a
	// fraction k/d of the tied subjects removed.
	d := float64(rs.ndeath)
	wt := rs.deadwt / d
	for k := 0; k < rs.ndeath; k++ {
		ll += rs.step(float64(k)/d, wt, score, info)
	}

	return ll
}

// step applies one weighted increment using the risk set with a
// fraction f of the death set mass removed.
func (rs *riskSet) step(f, wt float64, score []float64, info *mat.Dense) float64 {

	p := rs.p
	d2 := rs.denom - f*rs.edenom

	if score != nil || info != nil {
		for j := 0; j < p; j++ {
			rs.mean[j] = (rs.m1[j] - f*rs.dm1[j]) / d2
		}
	}

	if score != nil {
		floats.AddScaled(score, -wt, rs.mean)
	}

	if info != nil {
		for j := 0; j < p; j++ {
			for k := 0; k <= j; k++ {
				v := (rs.m2[j*p+k]-f*rs.dm2[j*p+k])/d2 - rs.mean[j]*rs.mean[k]
				info.Set(j, k, info.At(j, k)+wt*v)
			}
		}
	}

	return -wt * math.Log(d2)
}
