package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kshedden/coxph/duration"
)

var (
	simConfig = duration.SimConfig{
		N:          500,
		Coeff:      []float64{0.5, -0.5},
		Shape:      1,
		Scale:      1,
		CensorRate: 0.5,
		Seed:       1,
	}
	simOut string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate proportional hazards data",
	Long: `Generate data from a proportional hazards model with a Weibull
baseline hazard and write it as CSV.

Examples:
  coxfit simulate --n 1000 --coeff 1,-1 > sim.csv
  coxfit simulate --max-entry 2 --strata 3 --out sim.csv`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simConfig.N, "n", simConfig.N, "Number of cases")
	f.Float64SliceVar(&simConfig.Coeff, "coeff", simConfig.Coeff, "Covariate coefficients, comma separated")
	f.Float64Var(&simConfig.Shape, "shape", simConfig.Shape, "Weibull shape of the baseline distribution")
	f.Float64Var(&simConfig.Scale, "scale", simConfig.Scale, "Weibull scale of the baseline distribution")
	f.Float64Var(&simConfig.CensorRate, "censor-rate", simConfig.CensorRate, "Rate of exponential censoring, 0 for none")
	f.Float64Var(&simConfig.MaxEntry, "max-entry", 0, "Largest entry time, 0 for no left truncation")
	f.IntVar(&simConfig.NumStrata, "strata", 0, "Number of strata")
	f.Uint64Var(&simConfig.Seed, "seed", simConfig.Seed, "Random seed")
	f.StringVarP(&simOut, "out", "o", "", "Output file, standard output if empty")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {

	data, err := duration.Simulate(simConfig)
	if err != nil {
		return err
	}

	if simOut == "" {
		return writeCSV(cmd.OutOrStdout(), data)
	}

	fid, err := os.Create(simOut)
	if err != nil {
		return err
	}
	if err := writeCSV(fid, data); err != nil {
		fid.Close()
		return err
	}
	return fid.Close()
}
