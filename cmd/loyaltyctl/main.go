package main

import (
	"fmt"
	"os"

	"smallbiznis-loyalty/internal/cli"

	"go.uber.org/zap"
)

func main() {
	zap.ReplaceGlobals(zap.NewNop())

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
