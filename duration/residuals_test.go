package duration

import (
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestSchoenfeldHand(t *testing.T) {

	// At zero the risk set means are 28/6 at time 1 and 17/3 at time 3.
	// Efron averages 28/6 and 25/5 at time 1.
	for _, tc := range []struct {
		ties     Ties
		expected []float64
	}{
		{Breslow, []float64{4 - 28.0/6, 2 - 28.0/6, 6 - 17.0/3}},
		{Efron, []float64{4 - (28.0/6+5)/2, 2 - (28.0/6+5)/2, 6 - 17.0/3}},
	} {
		c := DefaultPHRegConfig()
		c.Ties = tc.ties
		ph, err := NewPHReg(data1(), "Time", "Status", []string{"X"}, c)
		if err != nil {
			panic(err)
		}

		sr := ph.SchoenfeldResid([]float64{0})
		got := []float64{sr.At(0, 0), sr.At(1, 0), sr.At(4, 0)}
		if !floats.EqualApprox(got, tc.expected, 1e-12) {
			fmt.Printf("Got      %v\n", got)
			fmt.Printf("Expected %v\n", tc.expected)
			t.Fail()
		}
		for _, i := range []int{2, 3, 5} {
			if !math.IsNaN(sr.At(i, 0)) {
				fmt.Printf("Censored case %d has residual %v\n", i, sr.At(i, 0))
				t.Fail()
			}
		}
	}
}

// weightedColSums returns the column sums of r weighted by w, skipping
// NaN rows.
func weightedColSums(r *mat.Dense, w []float64) []float64 {
	n, p := r.Dims()
	s := make([]float64, p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			if v := r.At(i, j); !math.IsNaN(v) {
				s[j] += w[i] * v
			}
		}
	}
	return s
}

func TestResidScore(t *testing.T) {

	for _, dt := range diffTests {
		for _, ties := range []Ties{Efron, Breslow} {
			c := dt.config()
			if c.L2Penalty != nil {
				continue
			}
			c.Ties = ties
			ph, err := NewPHReg(dt.data, dt.time, dt.status, dt.xnames, c)
			if err != nil {
				panic(err)
			}

			for _, params := range dt.params {
				score := make([]float64, len(params))
				ph.Score(&PHParameter{params}, score)

				ss := weightedColSums(ph.SchoenfeldResid(params), ph.weight)
				if !floats.EqualApprox(ss, score, 1e-10) {
					fmt.Printf("%s (%s): Schoenfeld residuals\n", dt.title, ties)
					fmt.Printf("Got      %v\n", ss)
					fmt.Printf("Expected %v\n", score)
					t.Fail()
				}

				sc := weightedColSums(ph.ScoreResid(params), ph.weight)
				if !floats.EqualApprox(sc, score, 1e-10) {
					fmt.Printf("%s (%s): score residuals\n", dt.title, ties)
					fmt.Printf("Got      %v\n", sc)
					fmt.Printf("Expected %v\n", score)
					t.Fail()
				}
			}
		}
	}
}

func TestScoreResidBreslowHand(t *testing.T) {

	// At zero with Breslow ties the hazard increments are 2/6 at time 1
	// and 1/3 at time 3.  Case 2 (x = 5, censored at 2) is at risk only
	// at time 1, case 5 (x = 5, censored at 4) at both times.
	ph, err := NewPHReg(data1(), "Time", "Status", []string{"X"}, breslowConfig())
	if err != nil {
		panic(err)
	}
	sr := ph.ScoreResid([]float64{0})

	m1, m3 := 28.0/6, 17.0/3
	expected := []float64{
		(4 - m1) - (4-m1)*2/6,
		-(5 - m1) * 2 / 6,
		-(5-m1)*2/6 - (5-m3)/3,
	}
	got := []float64{sr.At(0, 0), sr.At(2, 0), sr.At(5, 0)}
	if !floats.EqualApprox(got, expected, 1e-12) {
		fmt.Printf("Got      %v\n", got)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}
}

func TestResidNoCovariates(t *testing.T) {

	ph, err := NewPHReg(data1(), "Time", "Status", nil, nil)
	if err != nil {
		panic(err)
	}
	if ph.SchoenfeldResid(nil) != nil || ph.ScoreResid(nil) != nil {
		t.Fail()
	}
}
