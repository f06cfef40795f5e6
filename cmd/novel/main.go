// Command novel drives a novel project's chapter pipeline.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/novel/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Commands report their own failures; flag and format errors are not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
