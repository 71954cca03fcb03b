// Command nanogrid-agent runs the data-plane compute agent: it long-polls
// a task queue, executes user code inside pooled containers, and
// publishes results to the notification bus and a metrics sink.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

const version = "nanogrid-agent 1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "nanogrid-agent",
		Short:   "NanoGrid Agent - queue-driven container execution agent",
		Long:    "Long-polls a task queue, runs user code in pooled containers, and reports results.",
		Version: version,
		RunE:    run,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (YAML)")
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
