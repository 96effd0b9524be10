package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kshedden/coxph/duration"
	"github.com/kshedden/coxph/statmodel"
)

// FitConfig describes a model fit.  It is read from a TOML file, and
// command line flags override individual settings.
type FitConfig struct {

	// Variable names in the data file
	Time       string   `toml:"time"`
	Status     string   `toml:"status"`
	Entry      string   `toml:"entry"`
	Weight     string   `toml:"weight"`
	Offset     string   `toml:"offset"`
	Strata     string   `toml:"strata"`
	Covariates []string `toml:"covariates"`

	// Fitting settings, see duration.PHRegConfig
	Ties      string             `toml:"ties"`
	Method    string             `toml:"method"`
	Scale     string             `toml:"scale"`
	MaxIter   int                `toml:"max_iter"`
	Eps       float64            `toml:"eps"`
	CholTol   float64            `toml:"chol_tol"`
	Start     []float64          `toml:"start"`
	L1Penalty map[string]float64 `toml:"l1_penalty"`
	L2Penalty map[string]float64 `toml:"l2_penalty"`

	// Covariate values at which the fitted log relative hazard is
	// reported, other covariates are held at their means
	Grid map[string][]float64 `toml:"grid"`

	// If not empty, the residuals are written to this CSV file
	Residuals string `toml:"residuals"`
}

func defaultFitConfig() *FitConfig {
	return &FitConfig{
		Time:    "time",
		Status:  "status",
		Ties:    "efron",
		Method:  "newton",
		Scale:   "meanabsdev",
		MaxIter: 20,
		Eps:     1e-9,
		CholTol: 1e-9,
	}
}

// loadFitConfig reads a fit configuration, settings that are not in
// the file keep their default values.
func loadFitConfig(path string) (*FitConfig, error) {

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg := defaultFitConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if und := md.Undecoded(); len(und) > 0 {
		var keys []string
		for _, k := range und {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// phregConfig converts the settings to a model configuration.
func (cfg *FitConfig) phregConfig(logger *slog.Logger) (*duration.PHRegConfig, error) {

	ties, err := duration.ParseTies(cfg.Ties)
	if err != nil {
		return nil, err
	}
	method, err := duration.ParseFitMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	scale, err := statmodel.ParseScaleType(cfg.Scale)
	if err != nil {
		return nil, err
	}

	c := duration.DefaultPHRegConfig()
	c.Logger = logger
	c.EntryVar = cfg.Entry
	c.WeightVar = cfg.Weight
	c.OffsetVar = cfg.Offset
	c.StrataVar = cfg.Strata
	c.Ties = ties
	c.FitMethod = method
	c.Scale = scale
	c.MaxIter = cfg.MaxIter
	c.Eps = cfg.Eps
	c.CholTol = cfg.CholTol
	c.Start = cfg.Start
	c.L1Penalty = cfg.L1Penalty
	c.L2Penalty = cfg.L2Penalty

	if method == duration.CoordinateDescent && len(cfg.L1Penalty) == 0 {
		return nil, fmt.Errorf("method %q needs an l1_penalty", cfg.Method)
	}

	return c, nil
}
