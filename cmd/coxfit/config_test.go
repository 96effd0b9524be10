package main

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kshedden/coxph/duration"
	"github.com/kshedden/coxph/statmodel"
)

const amlCSV = `time,status,x
9,1,0
13,1,0
13,0,0
18,1,0
23,1,0
28,0,0
31,1,0
34,1,0
45,0,0
48,1,0
161,0,0
5,1,1
5,1,1
8,1,1
8,1,1
12,1,1
16,0,1
23,1,1
27,1,1
30,1,1
33,1,1
43,1,1
45,1,1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFitConfig(t *testing.T) {
	path := writeFile(t, "fit.toml", `
time = "futime"
covariates = ["age", "trt"]
ties = "breslow"
max_iter = 50

[l2_penalty]
age = 0.5
`)

	cfg, err := loadFitConfig(path)
	require.NoError(t, err)
	require.Equal(t, "futime", cfg.Time)
	require.Equal(t, "status", cfg.Status)
	require.Equal(t, []string{"age", "trt"}, cfg.Covariates)
	require.Equal(t, "breslow", cfg.Ties)
	require.Equal(t, 50, cfg.MaxIter)
	require.Equal(t, 1e-9, cfg.Eps)
	require.Equal(t, map[string]float64{"age": 0.5}, cfg.L2Penalty)

	pc, err := cfg.phregConfig(nil)
	require.NoError(t, err)
	require.Equal(t, duration.Breslow, pc.Ties)
	require.Equal(t, duration.NewtonRaphson, pc.FitMethod)
	require.Equal(t, statmodel.MeanAbsDev, pc.Scale)
	require.Equal(t, 50, pc.MaxIter)
}

func TestLoadFitConfigErrors(t *testing.T) {
	_, err := loadFitConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = loadFitConfig(writeFile(t, "bad.toml", `ties = `))
	require.Error(t, err)

	_, err = loadFitConfig(writeFile(t, "unknown.toml", "tiez = \"efron\"\n"))
	require.ErrorContains(t, err, "tiez")

	tests := []struct {
		name   string
		modify func(*FitConfig)
	}{
		{"ties", func(c *FitConfig) { c.Ties = "exact" }},
		{"method", func(c *FitConfig) { c.Method = "simplex" }},
		{"scale", func(c *FitConfig) { c.Scale = "range" }},
		{"l1 without penalty", func(c *FitConfig) { c.Method = "l1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultFitConfig()
			tt.modify(cfg)
			_, err := cfg.phregConfig(nil)
			require.Error(t, err)
		})
	}
}

func TestReadWriteCSV(t *testing.T) {
	data, err := readCSV(strings.NewReader(amlCSV))
	require.NoError(t, err)
	require.Equal(t, []string{"time", "status", "x"}, data.Names())
	require.Len(t, data.Column("time"), 23)
	require.Equal(t, 161.0, data.Column("time")[10])

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, data))
	require.Equal(t, amlCSV, buf.String())

	_, err = readCSV(strings.NewReader("a,b\n1,x\n"))
	require.ErrorContains(t, err, `column "b"`)

	_, err = readCSV(strings.NewReader("a,a\n1,2\n"))
	require.Error(t, err)

	_, err = readCSV(strings.NewReader("a,b\n1,2,3\n"))
	require.Error(t, err)
}

func TestRunFitYAML(t *testing.T) {
	data, err := readCSV(strings.NewReader(amlCSV))
	require.NoError(t, err)

	cfg := defaultFitConfig()
	cfg.Covariates = []string{"x"}

	var buf bytes.Buffer
	require.NoError(t, runFit(&buf, data, cfg, "yaml", "", discardLogger()))

	var rep fitReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rep))
	require.Equal(t, 23, rep.Observations)
	require.Equal(t, 18, rep.Events)
	require.Equal(t, "converged", rep.Status)
	require.Len(t, rep.Coefficients, 1)
	require.InDelta(t, 0.9155325750147727, rep.Coefficients[0].Coef, 1e-5)
	require.InDelta(t, math.Exp(0.9155325750147727), rep.Coefficients[0].HR, 1e-4)
	require.NotNil(t, rep.Coefficients[0].SE)
	require.InDelta(t, 0.5119342751720094, *rep.Coefficients[0].SE, 1e-5)
	require.InDelta(t, -41.03261559645837, rep.LogLike, 1e-6)
	require.Len(t, rep.Tests, 3)
	require.Equal(t, "score", rep.Tests[2].Name)
	require.InDelta(t, 3.416734395517305, rep.Tests[2].Statistic, 1e-6)
	require.Empty(t, rep.Warnings)
}

func TestRunFitGrid(t *testing.T) {
	data, err := readCSV(strings.NewReader(amlCSV))
	require.NoError(t, err)

	path := writeFile(t, "grid.toml", `
covariates = ["x"]

[grid]
x = [0.0, 1.0]
`)
	cfg, err := loadFitConfig(path)
	require.NoError(t, err)
	require.Equal(t, map[string][]float64{"x": {0, 1}}, cfg.Grid)

	var buf bytes.Buffer
	require.NoError(t, runFit(&buf, data, cfg, "yaml", "", discardLogger()))

	var rep fitReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rep))
	require.Len(t, rep.Grid, 2)
	require.Equal(t, "x=0", rep.Grid[0].Point)
	require.InDelta(t, 0, rep.Grid[0].LogHaz, 1e-12)
	require.Len(t, rep.Contrasts, 1)
	require.Equal(t, "(x=1) vs (x=0)", rep.Contrasts[0].Point)
	require.InDelta(t, rep.Coefficients[0].Coef, rep.Contrasts[0].LogHaz, 1e-12)
	require.InDelta(t, *rep.Coefficients[0].SE, *rep.Contrasts[0].SE, 1e-12)

	buf.Reset()
	require.NoError(t, runFit(&buf, data, cfg, "text", "", discardLogger()))
	require.Contains(t, buf.String(), "Contrasts of the fitted linear predictor")

	cfg.Grid = map[string][]float64{"age": {1}}
	require.Error(t, runFit(&buf, data, cfg, "text", "", discardLogger()))
}

func TestRunFitText(t *testing.T) {
	data, err := readCSV(strings.NewReader(amlCSV))
	require.NoError(t, err)

	cfg := defaultFitConfig()
	cfg.Covariates = []string{"x"}
	cfg.Ties = "breslow"

	plotFile := filepath.Join(t.TempDir(), "hazard.png")
	var buf bytes.Buffer
	require.NoError(t, runFit(&buf, data, cfg, "text", plotFile, discardLogger()))
	require.Contains(t, buf.String(), "Proportional hazards regression analysis")
	require.Contains(t, buf.String(), "Breslow")
	require.FileExists(t, plotFile)

	require.Error(t, runFit(&buf, data, cfg, "xml", "", discardLogger()))

	residFile := filepath.Join(t.TempDir(), "resid.csv")
	cfg.Residuals = residFile
	buf.Reset()
	require.NoError(t, runFit(&buf, data, cfg, "text", "", discardLogger()))
	resid, err := readCSVFile(residFile)
	require.NoError(t, err)
	require.Equal(t, []string{"martingale", "schoenfeld_x", "score_x"}, resid.Names())
	require.Len(t, resid.Column("martingale"), 23)
	var msum float64
	for _, v := range resid.Column("martingale") {
		msum += v
	}
	require.InDelta(t, 0, msum, 1e-8)
	require.True(t, math.IsNaN(resid.Column("schoenfeld_x")[2]))
	cfg.Residuals = ""

	cfg.Covariates = nil
	require.Error(t, runFit(&buf, data, cfg, "text", "", discardLogger()))

	cfg.Covariates = []string{"age"}
	err = runFit(&buf, data, cfg, "text", "", discardLogger())
	require.ErrorIs(t, err, duration.ErrInvalidData)
}

func TestSimulateFit(t *testing.T) {
	data, err := duration.Simulate(duration.SimConfig{
		N:          300,
		Coeff:      []float64{1},
		Shape:      1,
		Scale:      1,
		CensorRate: 0.2,
		MaxEntry:   0.5,
		NumStrata:  2,
		Seed:       7,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, data))

	back, err := readCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, data.Names(), back.Names())
	require.Equal(t, data.Data(), back.Data())

	cfg := defaultFitConfig()
	cfg.Entry = "entry"
	cfg.Strata = "stratum"
	cfg.Covariates = []string{"x1"}
	buf.Reset()
	require.NoError(t, runFit(&buf, back, cfg, "yaml", "", discardLogger()))

	var rep fitReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rep))
	require.Equal(t, []int{0, 1}, rep.Strata)
	require.InDelta(t, 1, rep.Coefficients[0].Coef, 0.3)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "k", 1)
	require.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger(&buf, "loud", "text")
	require.Error(t, err)

	_, err = newLogger(&buf, "info", "xml")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "coxfit version "+version+"\n", buf.String())
}
