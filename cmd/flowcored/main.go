// Command flowcored runs the dataflow engine: the domain executors,
// their control-plane wiring, and the read-side HTTP surface, all in
// one process. It is the teacher's cli.RootCmd/main.go pattern --
// cobra root command, Viper-backed configuration, graceful shutdown on
// SIGINT/SIGTERM -- generalized from "one RabbitMQ/CouchDB-backed flow
// service" to "one or more dataflow domains plus their supporting
// infrastructure".
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowcored",
	Short: "runs and administers a flowcore dataflow engine instance",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(inspectCmd)
}
