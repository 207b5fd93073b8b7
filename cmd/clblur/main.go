package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cwbudde/clblur/internal/fault"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var ferr *fault.Error
		if errors.As(err, &ferr) && ferr.Log != "" {
			fmt.Fprintf(os.Stderr, "Build log:\n%s\n", ferr.Log)
		}
	}
	os.Exit(fault.ExitCode(err))
}
