package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/kshedden/coxph/duration"
	"github.com/kshedden/coxph/statmodel"
)

var (
	fitConfigFile string
	fitFormat     string
	fitPlot       string
	fitFlags      = defaultFitConfig()
)

var fitCmd = &cobra.Command{
	Use:   "fit [flags] data.csv",
	Short: "Fit a proportional hazards regression model",
	Long: `Fit a proportional hazards regression model to the data in a CSV
file with a header row.  Settings are read from the TOML file given by
--config, and flags override the file.

Examples:
  coxfit fit --covariates age,trt data.csv
  coxfit fit --config model.toml --format yaml data.csv
  coxfit fit --strata center --plot hazard.png data.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runFitCmd,
}

func init() {
	f := fitCmd.Flags()
	f.StringVarP(&fitConfigFile, "config", "c", "", "TOML file with the fit settings")
	f.StringVar(&fitFormat, "format", "text", "Output format: text or yaml")
	f.StringVar(&fitPlot, "plot", "", "Write the baseline cumulative hazard plot to this file")

	f.StringVar(&fitFlags.Time, "time", fitFlags.Time, "Exit time variable")
	f.StringVar(&fitFlags.Status, "status", fitFlags.Status, "Event status variable (1 = event, 0 = censored)")
	f.StringVar(&fitFlags.Entry, "entry", "", "Entry time variable")
	f.StringVar(&fitFlags.Weight, "weight", "", "Case weight variable")
	f.StringVar(&fitFlags.Offset, "offset", "", "Offset variable")
	f.StringVar(&fitFlags.Strata, "strata", "", "Stratum variable")
	f.StringSliceVar(&fitFlags.Covariates, "covariates", nil, "Covariates, comma separated")
	f.StringVar(&fitFlags.Ties, "ties", fitFlags.Ties, "Method for ties: efron or breslow")
	f.StringVar(&fitFlags.Method, "method", fitFlags.Method, "Fitting method: newton or gradient")
	f.StringVar(&fitFlags.Scale, "scale", fitFlags.Scale, "Covariate scaling: none, l2norm, variance or meanabsdev")
	f.IntVar(&fitFlags.MaxIter, "max-iter", fitFlags.MaxIter, "Maximum number of iterations")
	f.Float64Var(&fitFlags.Eps, "eps", fitFlags.Eps, "Convergence tolerance")
	f.StringVar(&fitFlags.Residuals, "resid", "", "Write martingale, Schoenfeld and score residuals to this CSV file")

	rootCmd.AddCommand(fitCmd)
}

func runFitCmd(cmd *cobra.Command, args []string) error {

	logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return err
	}

	cfg := defaultFitConfig()
	if fitConfigFile != "" {
		if cfg, err = loadFitConfig(fitConfigFile); err != nil {
			return err
		}
	}
	mergeFitFlags(cmd, cfg, fitFlags)

	data, err := readCSVFile(args[0])
	if err != nil {
		return err
	}

	return runFit(cmd.OutOrStdout(), data, cfg, fitFormat, fitPlot, logger)
}

// mergeFitFlags copies the flags that were set on the command line
// into cfg.
func mergeFitFlags(cmd *cobra.Command, cfg, flags *FitConfig) {

	set := func(name string, dst *string, src string) {
		if cmd.Flags().Changed(name) {
			*dst = src
		}
	}
	set("time", &cfg.Time, flags.Time)
	set("status", &cfg.Status, flags.Status)
	set("entry", &cfg.Entry, flags.Entry)
	set("weight", &cfg.Weight, flags.Weight)
	set("offset", &cfg.Offset, flags.Offset)
	set("strata", &cfg.Strata, flags.Strata)
	set("ties", &cfg.Ties, flags.Ties)
	set("method", &cfg.Method, flags.Method)
	set("scale", &cfg.Scale, flags.Scale)
	set("resid", &cfg.Residuals, flags.Residuals)

	if cmd.Flags().Changed("covariates") {
		cfg.Covariates = flags.Covariates
	}
	if cmd.Flags().Changed("max-iter") {
		cfg.MaxIter = flags.MaxIter
	}
	if cmd.Flags().Changed("eps") {
		cfg.Eps = flags.Eps
	}
}

// runFit fits the model and writes the results to w.
func runFit(w io.Writer, data statmodel.Dataset, cfg *FitConfig, format, plotFile string, logger *slog.Logger) error {

	if len(cfg.Covariates) == 0 {
		return fmt.Errorf("no covariates given")
	}

	pc, err := cfg.phregConfig(logger)
	if err != nil {
		return err
	}

	model, err := duration.NewPHReg(data, cfg.Time, cfg.Status, cfg.Covariates, pc)
	if err != nil {
		return err
	}

	rslt, err := model.Fit()
	if err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}
	logger.Info("model fit", "status", rslt.Status(), "iterations", rslt.Iterations(), "loglike", rslt.LogLike())

	var gm *statmodel.GridMeanResult
	var contrasts []*statmodel.PairContrastResult
	if len(cfg.Grid) > 0 {
		var wgt []float64
		if cfg.Weight != "" {
			wgt = data.Column(cfg.Weight)
		}
		gm, contrasts, err = gridContrasts(cfg.Grid, rslt, data, wgt)
		if err != nil {
			return err
		}
	}

	switch format {
	case "text":
		if _, err := fmt.Fprintln(w, rslt.Summary()); err != nil {
			return err
		}
		if gm != nil {
			if _, err := fmt.Fprintln(w, gm.Summary()); err != nil {
				return err
			}
		}
		for _, pc := range contrasts {
			if _, err := fmt.Fprintln(w, pc.Summary()); err != nil {
				return err
			}
		}
	case "yaml":
		rep := newFitReport(model, rslt, cfg)
		rep.addGrid(gm, contrasts)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	if plotFile != "" {
		if err := plotBaseline(model, rslt, plotFile); err != nil {
			return fmt.Errorf("failed to write plot: %w", err)
		}
	}

	if cfg.Residuals != "" {
		if err := writeResiduals(cfg.Residuals, model, rslt); err != nil {
			return fmt.Errorf("failed to write residuals: %w", err)
		}
	}

	return nil
}

// fitReport is the YAML form of the fit results.
type fitReport struct {
	Observations int          `yaml:"observations"`
	Events       int          `yaml:"events"`
	Strata       []int        `yaml:"strata"`
	Ties         string       `yaml:"ties"`
	Method       string       `yaml:"method"`
	Status       string       `yaml:"status"`
	Iterations   int          `yaml:"iterations"`
	Rank         int          `yaml:"rank"`
	InitLogLike  float64      `yaml:"init_loglike"`
	LogLike      float64      `yaml:"loglike"`
	Coefficients []coefReport `yaml:"coefficients"`
	Tests        []testReport `yaml:"tests"`
	Grid         []gridReport `yaml:"grid,omitempty"`
	Contrasts    []gridReport `yaml:"contrasts,omitempty"`
	Warnings     []string     `yaml:"warnings,omitempty"`
}

// gridReport is the log relative hazard at a grid point, or the log
// hazard ratio between two grid points.
type gridReport struct {
	Point  string   `yaml:"point"`
	LogHaz float64  `yaml:"log_hazard"`
	HR     float64  `yaml:"hr"`
	SE     *float64 `yaml:"se,omitempty"`
}

type coefReport struct {
	Name   string   `yaml:"name"`
	Coef   float64  `yaml:"coef"`
	HR     float64  `yaml:"hr"`
	SE     *float64 `yaml:"se,omitempty"`
	ZScore *float64 `yaml:"z,omitempty"`
	PValue *float64 `yaml:"p,omitempty"`
}

type testReport struct {
	Name      string  `yaml:"name"`
	Statistic float64 `yaml:"statistic"`
	DF        int     `yaml:"df"`
	PValue    float64 `yaml:"p"`
}

func newFitReport(model *duration.PHReg, rslt *duration.PHResults, cfg *FitConfig) *fitReport {

	rep := &fitReport{
		Observations: model.NumObs(),
		Events:       model.NumEvents(),
		Strata:       model.StrataLabels(),
		Ties:         cfg.Ties,
		Method:       cfg.Method,
		Status:       rslt.Status().String(),
		Iterations:   rslt.Iterations(),
		Rank:         rslt.Rank(),
		InitLogLike:  rslt.InitLogLike(),
		LogLike:      rslt.LogLike(),
	}

	se := rslt.StdErr()
	zs := rslt.ZScores()
	pv := rslt.PValues()
	for j, na := range rslt.Names() {
		cr := coefReport{
			Name: na,
			Coef: rslt.Params()[j],
			HR:   math.Exp(rslt.Params()[j]),
		}
		if se != nil && !rslt.InvalidStdErr()[j] {
			cr.SE = &se[j]
			cr.ZScore = &zs[j]
			cr.PValue = &pv[j]
		}
		rep.Coefficients = append(rep.Coefficients, cr)
	}

	add := func(name string, tr duration.TestResult) {
		rep.Tests = append(rep.Tests, testReport{name, tr.Statistic, tr.DF, tr.PValue})
	}
	add("likelihood ratio", rslt.LikelihoodRatioTest())
	if tr, err := rslt.WaldTest(); err == nil {
		add("wald", tr)
	}
	tr, err := rslt.ScoreTest()
	add("score", tr)
	if err != nil {
		rep.Warnings = append(rep.Warnings, err.Error())
	}
	if rslt.Status() != duration.StatusConverged {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("fit status: %s", rslt.Status()))
	}

	return rep
}

// gridContrasts evaluates the fitted linear predictor on the grid, with
// the other covariates at their (weighted) means, and contrasts each
// further value of a grid variable with its first value.
func gridContrasts(grid map[string][]float64, rslt *duration.PHResults, data statmodel.Dataset, weights []float64) (*statmodel.GridMeanResult, []*statmodel.PairContrastResult, error) {

	gm, err := statmodel.GridMeans(grid, rslt, data, weights)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	for na := range grid {
		names = append(names, na)
	}
	sort.Strings(names)

	var contrasts []*statmodel.PairContrastResult
	for _, na := range names {
		v := grid[na]
		for _, x := range v[1:] {
			contrasts = append(contrasts, gm.PairContrast(x, v[0], na))
		}
	}

	return gm, contrasts, nil
}

func (rep *fitReport) addGrid(gm *statmodel.GridMeanResult, contrasts []*statmodel.PairContrastResult) {

	se := func(x float64) *float64 {
		if math.IsNaN(x) {
			return nil
		}
		return &x
	}

	if gm != nil {
		for _, r := range gm.Records {
			rep.Grid = append(rep.Grid, gridReport{r.Name.String(), r.Mean, math.Exp(r.Mean), se(r.SE)})
		}
	}

	for _, pc := range contrasts {
		for _, r := range pc.Records {
			pt := fmt.Sprintf("(%s) vs (%s)", r.Rec1.Name.String(), r.Rec2.Name.String())
			rep.Contrasts = append(rep.Contrasts, gridReport{pt, r.Diff, math.Exp(r.Diff), se(r.SE)})
		}
	}
}

// writeResiduals writes one row per case with the martingale residual
// and the Schoenfeld and score residuals of each covariate.
func writeResiduals(fname string, model *duration.PHReg, rslt *duration.PHResults) error {

	params := rslt.Params()
	names := []string{"martingale"}
	cols := [][]float64{model.MartingaleResid(params)}

	sr := model.SchoenfeldResid(params)
	sc := model.ScoreResid(params)
	for j, na := range rslt.Names() {
		names = append(names, "schoenfeld_"+na)
		cols = append(cols, mat.Col(nil, j, sr))
	}
	for j, na := range rslt.Names() {
		names = append(names, "score_"+na)
		cols = append(cols, mat.Col(nil, j, sc))
	}

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	if err := writeCSV(fid, statmodel.NewDataset(cols, names)); err != nil {
		fid.Close()
		return err
	}
	return fid.Close()
}

// plotBaseline plots the baseline cumulative hazard of each stratum.
func plotBaseline(model *duration.PHReg, rslt *duration.PHResults, fname string) error {

	bp := duration.NewBaselineHazPlotter()
	for k, label := range model.StrataLabels() {
		ti, ch := model.BaselineCumHaz(k, rslt.Params())
		if err := bp.Add(ti, ch, fmt.Sprintf("stratum %d", label)); err != nil {
			return err
		}
	}

	return bp.Save(fname)
}
