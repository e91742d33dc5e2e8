package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/meshgate/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("MESHGATE_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
