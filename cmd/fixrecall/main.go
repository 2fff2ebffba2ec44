// Package main provides the entry point for the fixrecall CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/fixrecall/cmd/fixrecall/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
