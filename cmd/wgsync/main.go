package main

import (
	"fmt"
	"os"

	"wgsync/internal/logging"
	"wgsync/internal/ui"
)

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("error: %v", err))
		os.Exit(1)
	}
}
