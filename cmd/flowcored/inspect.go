package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowcore.dev/engine/common"
)

// inspectCmd queries a running flowcored instance's migration-status
// read surface (migration.Tracker.RegisterRoutes, mounted by serve),
// the same way a human operator would curl it -- kept as a first-class
// subcommand since every other ambient surface in this tree already
// has a CLI entry point.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "query a running instance's migration status",
}

var inspectListCmd = &cobra.Command{
	Use:   "list",
	Short: "list tracked migrations",
	RunE:  runInspectList,
}

var inspectGetCmd = &cobra.Command{
	Use:   "get <migration-id>",
	Short: "show one migration's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectGet,
}

var inspectStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "summarize tracked migrations by status",
	RunE:  runInspectStats,
}

func init() {
	inspectCmd.PersistentFlags().String("addr", "http://127.0.0.1:8080", "flowcored instance base URL")
	viper.BindPFlag("inspect_addr", inspectCmd.PersistentFlags().Lookup("addr"))

	inspectCmd.AddCommand(inspectListCmd)
	inspectCmd.AddCommand(inspectGetCmd)
	inspectCmd.AddCommand(inspectStatsCmd)
}

var inspectClient = &http.Client{Timeout: 5 * time.Second}

func inspectFetch(path string, out interface{}) error {
	base := viper.GetString("inspect_addr")
	resp, err := inspectClient.Get(base + path)
	if err != nil {
		return fmt.Errorf("inspect: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("inspect: %s not found", path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspect: %s returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runInspectList(cmd *cobra.Command, args []string) error {
	var states []json.RawMessage
	if err := inspectFetch("/migrations", &states); err != nil {
		return err
	}
	for _, s := range states {
		common.Logger.Info(string(s))
	}
	if len(states) == 0 {
		fmt.Println("no migrations tracked")
	}
	return nil
}

func runInspectGet(cmd *cobra.Command, args []string) error {
	var state json.RawMessage
	if err := inspectFetch("/migrations/"+args[0], &state); err != nil {
		return err
	}
	fmt.Println(string(state))
	return nil
}

func runInspectStats(cmd *cobra.Command, args []string) error {
	var stats json.RawMessage
	if err := inspectFetch("/migrations/stats", &stats); err != nil {
		return err
	}
	fmt.Println(string(stats))
	return nil
}
