package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
)

// exitCode carries a process exit status out of a command.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	var cfgPath string
	root := &cobra.Command{
		Use:           "quizrunner",
		Short:         "Solve chained quiz tasks with a multimodal inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config/config.json or ./config.json)")
	root.AddCommand(runCMD(&cfgPath), serveCMD(&cfgPath), workerCMD(&cfgPath))
	root.SetArgs(args)

	err := root.Execute()
	var code exitCode
	var cfgErr failure.ConfigError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	case errors.As(err, &cfgErr):
		fmt.Fprintln(os.Stderr, err)
		return 2
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
