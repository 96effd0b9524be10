// Command coxfit fits proportional hazards regression models to
// duration data stored in CSV files.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coxfit: %v\n", err)
		os.Exit(1)
	}
}
