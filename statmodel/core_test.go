package statmodel

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func data1() ([]string, [][]Dtype) {
	x := [][]Dtype{
		{0, 1, 3, 2, 1, 1, 0},
		{1, 1, 1, 1, 1, 1, 1},
		{4, 1, -1, 3, 5, -5, 3},
	}
	return []string{"y", "x1", "x2"}, x
}

func data1b() ([]string, [][]Dtype) {
	x := [][]Dtype{
		{0, 1, 3, 2, 1, 1, 0},
		{1, 1, 1, 1, 1, 1, 1},
		{8, 2, -2, 6, 10, -10, 6},
	}
	return []string{"y", "x1", "x2"}, x
}

// A mock model for testing
type Mock struct {
	data [][]Dtype
	xpos []int
	hess []float64
}

func (m *Mock) Dataset() [][]Dtype {
	return m.data
}

func (m *Mock) LogLike(params Parameter, exact bool) float64 {
	return 0
}

func (m *Mock) Score(params Parameter, score []float64) {
}

func (m *Mock) Hessian(params Parameter, ht HessType, hess []float64) {
	copy(hess, m.hess)
}

func (m *Mock) NumParams() int {
	return len(m.xpos)
}

func (m *Mock) NumObs() int {
	return len(m.data[0])
}

func (m *Mock) Xpos() []int {
	return m.xpos
}

type param struct {
	coeff []float64
}

func (p *param) GetCoeff() []float64 {
	return p.coeff
}

func (p *param) SetCoeff(x []float64) {
	p.coeff = append(p.coeff[:0], x...)
}

func (p *param) Clone() Parameter {
	return &param{coeff: append([]float64(nil), p.coeff...)}
}

func TestFittedValues(t *testing.T) {

	_, da := data1()
	model := &Mock{
		data: da,
		xpos: []int{1, 2},
	}

	params := []float64{1, 2}
	xnames := []string{"x1", "x2"}
	vcov := []float64{0, 0, 0, 0}
	r := NewBaseResults(model, 0, params, xnames, vcov)

	// Test fitted values on the training data.
	fv := []float64{9, 3, -1, 7, 11, -9, 7}
	if !floats.Equal(fv, r.FittedValues(nil)) {
		t.Fail()
	}

	// Test fitted values when passing new data.
	_, da2 := data1b()
	fv = []float64{17, 5, -3, 13, 21, -19, 13}
	if !floats.Equal(fv, r.FittedValues(da2)) {
		t.Fail()
	}
}

func TestInference(t *testing.T) {

	_, da := data1()
	model := &Mock{
		data: da,
		xpos: []int{1, 2},
	}

	params := []float64{1, -0.5}
	vcov := []float64{0.25, 0.1, 0.1, 0.04}
	r := NewBaseResults(model, -3, params, []string{"x1", "x2"}, vcov)

	if !floats.EqualApprox(r.StdErr(), []float64{0.5, 0.2}, 1e-12) {
		t.Fail()
	}
	if !floats.EqualApprox(r.ZScores(), []float64{2, -2.5}, 1e-12) {
		t.Fail()
	}
	if !floats.EqualApprox(r.PValues(), []float64{0.04550026389635839, 0.012419330651552318}, 1e-10) {
		t.Fail()
	}
	for _, b := range r.InvalidStdErr() {
		if b {
			t.Fail()
		}
	}

	lcb, ucb := r.ConfInt(0.95)
	if !floats.EqualApprox(lcb, []float64{1 - 1.959963984540054*0.5, -0.5 - 1.959963984540054*0.2}, 1e-8) {
		t.Fail()
	}
	if !floats.EqualApprox(ucb, []float64{1 + 1.959963984540054*0.5, -0.5 + 1.959963984540054*0.2}, 1e-8) {
		t.Fail()
	}
}

func TestInvalidStdErr(t *testing.T) {

	_, da := data1()
	model := &Mock{
		data: da,
		xpos: []int{1, 2},
	}

	r := NewBaseResults(model, 0, []float64{1, 1}, []string{"x1", "x2"}, []float64{-1, 0, 0, 4})
	if !math.IsNaN(r.StdErr()[0]) || r.StdErr()[1] != 2 {
		t.Fail()
	}
	inv := r.InvalidStdErr()
	if !inv[0] || inv[1] {
		t.Fail()
	}
	if !math.IsNaN(r.PValues()[0]) {
		t.Fail()
	}

	// A zero variance is flagged rather than giving 0/0 z-scores.
	r = NewBaseResults(model, 0, []float64{1, 0}, []string{"x1", "x2"}, []float64{4, 0, 0, 0})
	inv = r.InvalidStdErr()
	if inv[0] || !inv[1] || !math.IsNaN(r.StdErr()[1]) || r.ZScores()[0] != 0.5 {
		t.Fail()
	}

	r = NewBaseResults(model, 0, []float64{1, 1}, []string{"x1", "x2"}, nil)
	if r.StdErr() != nil || r.InvalidStdErr() != nil || r.PValues() != nil {
		t.Fail()
	}
}

func TestGetVcov(t *testing.T) {

	_, da := data1()
	model := &Mock{
		data: da,
		xpos: []int{1, 2},
		hess: []float64{-4, 0, 0, -0.5},
	}

	v, err := GetVcov(model, &param{coeff: []float64{0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if !floats.EqualApprox(v, []float64{0.25, 0, 0, 2}, 1e-12) {
		t.Fail()
	}

	model.hess = []float64{0, 0, 0, 0}
	if _, err := GetVcov(model, &param{coeff: []float64{0, 0}}); err == nil {
		t.Fail()
	}
}

func TestDataset(t *testing.T) {

	names, da := data1()
	ds := NewDataset(da, names)

	if j, ok := ds.Pos("x2"); !ok || j != 2 {
		t.Fail()
	}
	if _, ok := ds.Pos("z"); ok {
		t.Fail()
	}
	if !floats.Equal(ds.Column("y"), da[0]) || ds.Column("z") != nil {
		t.Fail()
	}

	defer func() {
		if recover() == nil {
			t.Fail()
		}
	}()
	NewDataset(da, []string{"y", "x1", "x1"})
}

func TestScaleType(t *testing.T) {
	for _, st := range []ScaleType{NoScale, L2Norm, Variance, MeanAbsDev} {
		st1, err := ParseScaleType(strings.ToUpper(st.String()))
		if err != nil || st1 != st {
			t.Fail()
		}
	}
	if _, err := ParseScaleType("range"); err == nil {
		t.Fail()
	}
}

func TestSummaryTable(t *testing.T) {

	tab := &SummaryTable{
		Title:    "Test table",
		ColNames: []string{"Variable", "Estimate"},
		ColFmt:   []Fmter{StringFmter, FloatFmter("%10.4f")},
		Cols:     []interface{}{[]string{"a", "bb"}, []float64{1.5, -2}},
		Top:      []string{"n: 10", "events: 4", "ties: efron"},
		Msg:      []string{"note"},
	}

	s := tab.String()
	for _, x := range []string{"Test table", "   1.5000", "  -2.0000", "ties: efron", "note\n"} {
		if !strings.Contains(s, x) {
			t.Logf("missing %q in\n%s", x, s)
			t.Fail()
		}
	}
}

func TestSummaryTableWidth(t *testing.T) {

	tab := &SummaryTable{
		Title:    "Wide values",
		ColNames: []string{"Variable", "HR"},
		ColFmt:   []Fmter{StringFmter, FloatFmter("%10.4f")},
		Cols:     []interface{}{[]string{"a", "b"}, []float64{1.5, 1e40}},
	}

	// Every line between the header rule and the closing rule has the
	// width of the rules.
	lines := strings.Split(strings.TrimRight(tab.String(), "\n"), "\n")
	rule := lines[len(lines)-1]
	for _, line := range lines[len(lines)-4 : len(lines)-1] {
		if len(line) != len(rule) {
			fmt.Printf("Got      %q\n", line)
			fmt.Printf("Expected width %d\n", len(rule))
			t.Fail()
		}
	}
}

// quadModel has log-likelihood -0.5 * sum_j a_j (b_j - c_j)^2.
type quadModel struct {
	a, c []float64
	nobs int
}

func (m *quadModel) NumParams() int     { return len(m.a) }
func (m *quadModel) NumObs() int        { return m.nobs }
func (m *quadModel) Xpos() []int        { return nil }
func (m *quadModel) Dataset() [][]Dtype { return nil }

func (m *quadModel) LogLike(par Parameter, exact bool) float64 {
	var ll float64
	for j, b := range par.GetCoeff() {
		ll -= 0.5 * m.a[j] * (b - m.c[j]) * (b - m.c[j])
	}
	return ll
}

func (m *quadModel) Score(par Parameter, score []float64) {
	for j, b := range par.GetCoeff() {
		score[j] = -m.a[j] * (b - m.c[j])
	}
}

func (m *quadModel) Hessian(par Parameter, ht HessType, hess []float64) {
	p := len(m.a)
	for j := range hess {
		hess[j] = 0
	}
	for j := 0; j < p; j++ {
		hess[j*p+j] = -m.a[j]
	}
}

func (m *quadModel) Focus(j int, coeff, offset []float64) RegFitter {
	return &quadModel{a: m.a[j : j+1], c: m.c[j : j+1], nobs: m.nobs}
}

func TestFitL1Reg(t *testing.T) {

	model := &quadModel{
		a:    []float64{2, 1, 4},
		c:    []float64{1.5, -0.2, -3},
		nobs: 10,
	}

	for _, checkstep := range []bool{false, true} {
		par := &param{coeff: []float64{0, 0, 0}}
		_, info := FitL1Reg(model, par, []float64{0.1, 0.1, 0.1}, nil, checkstep)

		// Soft thresholding at nobs * l1wgt / a_j.
		if !floats.EqualApprox(par.coeff, []float64{1, 0, -2.75}, 1e-8) {
			t.Logf("Got %v", par.coeff)
			t.Fail()
		}
		if !info.Converged || info.Iterations != 2 {
			t.Fail()
		}
	}
}

func TestBisection(t *testing.T) {
	f := func(x float64) float64 { return (x - 3.2) * (x - 3.2) }
	x := bisection(f, -1, 1, 1e-9)
	if math.Abs(x-3.2) > 1e-6 {
		t.Logf("Got %f", x)
		t.Fail()
	}
}
