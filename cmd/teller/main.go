package main

import (
	"fmt"
	"os"

	"github.com/eaglebank/teller/internal/config"
)

func main() {
	// Environment first, flags override.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
