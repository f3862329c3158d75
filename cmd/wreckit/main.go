// Command wreckit is the CLI entry point: init, status, ideas, run, next,
// phase, and doctor, all built on cobra per the teacher's cmd/ao layout.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/wreckit/wreckit/internal/cli"
)

type exitCoder interface {
	ExitCode() int
}

func main() {
	root := cli.NewRootCmd()
	err := root.Execute()
	if err == nil {
		os.Exit(0)
	}

	var ec exitCoder
	if errors.As(err, &ec) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ec.ExitCode())
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
