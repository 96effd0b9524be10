package duration

import (
	"math"
	"sort"

	"github.com/kshedden/coxph/statmodel"
)

// setupColumns locates and checks the variables used by the model.
func (ph *PHReg) setupColumns(data statmodel.Dataset, time, status string, predictors []string, config *PHRegConfig) error {

	column := func(name string) ([]float64, int, error) {
		j, ok := data.Pos(name)
		if !ok {
			return nil, -1, invalid(name, "variable not found in dataset")
		}
		return data.Data()[j], j, nil
	}

	var err error
	if ph.time, _, err = column(time); err != nil {
		return err
	}
	n := len(ph.time)
	if n == 0 {
		return invalid(time, "no observations")
	}

	checkLen := func(name string, x []float64) error {
		if len(x) != n {
			return invalid(name, "has length %d, but %s has length %d", len(x), time, n)
		}
		return nil
	}

	// Optional variables, nil if not named.
	optional := func(name string) ([]float64, error) {
		if name == "" {
			return nil, nil
		}
		x, _, err := column(name)
		if err != nil {
			return nil, err
		}
		return x, checkLen(name, x)
	}

	if ph.status, _, err = column(status); err != nil {
		return err
	}
	if err := checkLen(status, ph.status); err != nil {
		return err
	}

	for _, na := range predictors {
		x, j, err := column(na)
		if err != nil {
			return err
		}
		if err := checkLen(na, x); err != nil {
			return err
		}
		ph.x = append(ph.x, x)
		ph.xpos = append(ph.xpos, j)
	}

	if len(predictors) > n {
		return invalid("predictors", "%d covariates but only %d observations", len(predictors), n)
	}

	if ph.entry, err = optional(config.EntryVar); err != nil {
		return err
	}
	if ph.weight, err = optional(config.WeightVar); err != nil {
		return err
	}
	if ph.offset, err = optional(config.OffsetVar); err != nil {
		return err
	}
	strata, err := optional(config.StrataVar)
	if err != nil {
		return err
	}

	for i, t := range ph.time {
		if !isFinite(t) || t < 0 {
			return invalid(time, "time %v in row %d is not a non-negative number", t, i)
		}
	}

	for i, s := range ph.status {
		if s != 0 && s != 1 {
			return invalid(status, "status %v in row %d is not 0 or 1", s, i)
		}
	}

	ph.skip = make([]bool, n)
	for i, e := range ph.entry {
		if !isFinite(e) || e < 0 {
			return invalid(config.EntryVar, "entry time %v in row %d is not a non-negative number", e, i)
		}
		if e > ph.time[i] {
			return invalid(config.EntryVar, "entry time %v in row %d is after the exit time %v", e, i, ph.time[i])
		}
		if e == ph.time[i] {
			ph.skip[i] = true
			ph.skipZeroLength++
		}
	}

	if ph.weight == nil {
		ph.weight = make([]float64, n)
		for i := range ph.weight {
			ph.weight[i] = 1
		}
	}
	var wsum float64
	for i, w := range ph.weight {
		if !isFinite(w) || w < 0 {
			return invalid(config.WeightVar, "weight %v in row %d is not a non-negative number", w, i)
		}
		wsum += w
	}
	if wsum == 0 {
		return invalid(config.WeightVar, "weights sum to zero")
	}

	if ph.offset == nil {
		ph.offset = make([]float64, n)
	}
	for i, v := range ph.offset {
		if !isFinite(v) {
			return invalid(config.OffsetVar, "offset %v in row %d is not finite", v, i)
		}
	}

	for j, x := range ph.x {
		for i, v := range x {
			if !isFinite(v) {
				return invalid(predictors[j], "value %v in row %d is not finite", v, i)
			}
		}
	}

	ph.stratumPos = make([]int, n)
	if strata != nil {
		codes := make(map[int]bool)
		for i, s := range strata {
			if !isFinite(s) || s < 0 || s != math.Trunc(s) {
				return invalid(config.StrataVar, "stratum %v in row %d is not a non-negative integer", s, i)
			}
			codes[int(s)] = true
		}

		var labels []int
		for c := range codes {
			labels = append(labels, c)
		}
		sort.Ints(labels)

		pos := make(map[int]int, len(labels))
		for k, c := range labels {
			pos[c] = k
			ph.strata = append(ph.strata, stratum{label: c})
		}
		for i, s := range strata {
			ph.stratumPos[i] = pos[int(s)]
		}
	} else {
		ph.strata = []stratum{{label: 0}}
	}

	return nil
}

// setupConfig checks the fitting settings.
func (ph *PHReg) setupConfig(config *PHRegConfig) error {

	p := len(ph.x)

	if config.Start != nil {
		if len(config.Start) != p {
			return invalid("Start", "has length %d, but there are %d covariates", len(config.Start), p)
		}
		if !allFinite(config.Start) {
			return invalid("Start", "starting values must be finite")
		}
		ph.start = config.Start
	}

	if config.MaxIter < 0 {
		return invalid("MaxIter", "must be non-negative, got %d", config.MaxIter)
	}
	if !(config.Eps > 0) {
		return invalid("Eps", "must be positive, got %v", config.Eps)
	}
	if !(config.CholTol > 0) {
		return invalid("CholTol", "must be positive, got %v", config.CholTol)
	}
	if config.Ties != Efron && config.Ties != Breslow {
		return invalid("Ties", "unknown ties method %d", int(config.Ties))
	}
	switch config.Scale {
	case statmodel.NoScale, statmodel.L2Norm, statmodel.Variance, statmodel.MeanAbsDev:
	default:
		return invalid("Scale", "unknown scale type %d", int(config.Scale))
	}
	if config.FitMethod == Gradient && config.OptMethod == nil && config.L1Penalty == nil {
		return invalid("OptMethod", "the gradient method needs an optimizer")
	}

	var err error
	if ph.l1wgt, err = ph.penaltyWeights("L1Penalty", config.L1Penalty); err != nil {
		return err
	}
	if ph.l2wgt, err = ph.penaltyWeights("L2Penalty", config.L2Penalty); err != nil {
		return err
	}

	var pen penaltySum
	if ph.l2wgt != nil {
		pen = append(pen, &RidgePenalty{Weights: ph.l2wgt})
	}
	if config.Penalty != nil {
		pen = append(pen, config.Penalty)
	}
	switch len(pen) {
	case 0:
	case 1:
		ph.penalty = pen[0]
	default:
		ph.penalty = pen
	}

	return nil
}

// penaltyWeights returns the penalty weights in covariate order, or
// nil if no weights are given.
func (ph *PHReg) penaltyWeights(field string, m map[string]float64) ([]float64, error) {

	if len(m) == 0 {
		return nil, nil
	}

	pos := make(map[string]int)
	for j, na := range ph.xnames {
		pos[na] = j
	}

	v := make([]float64, len(ph.x))
	for na, w := range m {
		j, ok := pos[na]
		if !ok {
			return nil, invalid(field, "'%s' is not a covariate", na)
		}
		if !isFinite(w) || w < 0 {
			return nil, invalid(field, "weight %v for '%s' is not a non-negative number", w, na)
		}
		v[j] = w
	}

	return v, nil
}

// sortByStratum orders the cases in each stratum by descending exit
// time, and by descending entry time if there are entry times.  Cases
// that are never at risk are left out.  Sorting is stable so that the
// order, and therefore the numerical results, depend only on the data.
func (ph *PHReg) sortByStratum() {

	for i := range ph.time {
		if ph.skip[i] {
			continue
		}
		st := &ph.strata[ph.stratumPos[i]]
		st.byExit = append(st.byExit, i)
		if ph.status[i] == 1 {
			st.nevent++
			ph.nevent++
		}
	}

	for k := range ph.strata {
		st := &ph.strata[k]

		sort.SliceStable(st.byExit, func(a, b int) bool {
			return ph.time[st.byExit[a]] > ph.time[st.byExit[b]]
		})

		if ph.entry != nil {
			st.byEntry = make([]int, len(st.byExit))
			copy(st.byEntry, st.byExit)
			sort.SliceStable(st.byEntry, func(a, b int) bool {
				return ph.entry[st.byEntry[a]] > ph.entry[st.byEntry[b]]
			})
		}
	}
}
