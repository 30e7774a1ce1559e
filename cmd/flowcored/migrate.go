package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowcore.dev/engine/catalog"
	"flowcore.dev/engine/common"
	"flowcore.dev/engine/node"
)

// migrateCmd administers the catalog of committed dataflow topology.
// Committing an actual migration happens in Go code against a live
// graph.Assembler (an OperatorBuilder closure has no serializable
// form, see catalog.Store's package doc) -- this command only lists
// and prunes what has already been recorded there.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "inspect and administer the committed-node catalog",
}

var migrateListCmd = &cobra.Command{
	Use:   "list",
	Short: "list nodes committed to a domain",
	RunE:  runMigrateList,
}

var migrateDropCmd = &cobra.Command{
	Use:   "drop <node-index>",
	Short: "remove a node's catalog record",
	Args:  cobra.ExactArgs(1),
	RunE:  runMigrateDrop,
}

func init() {
	migrateCmd.PersistentFlags().String("postgres-dsn", "", "catalog database DSN")
	viper.BindPFlag("catalog_dsn", migrateCmd.PersistentFlags().Lookup("postgres-dsn"))

	migrateListCmd.Flags().Int("domain", 0, "domain index to list")
	migrateCmd.AddCommand(migrateListCmd)
	migrateCmd.AddCommand(migrateDropCmd)
}

func openCatalog() (*catalog.Store, error) {
	dsn := viper.GetString("catalog_dsn")
	if dsn == "" {
		return nil, fmt.Errorf("migrate: --postgres-dsn is required")
	}
	return catalog.Open(dsn)
}

func runMigrateList(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	domIdx, _ := cmd.Flags().GetInt("domain")

	entries, err := store.ListNodes(context.Background(), node.NewDomainIndex(domIdx))
	if err != nil {
		return err
	}
	for _, e := range entries {
		common.Logger.WithFields(map[string]interface{}{
			"index":     e.Index.Int(),
			"name":      e.Name,
			"domain":    e.Domain.Int(),
			"is_base":   e.IsBase,
			"committed": e.CommittedAt,
		}).Info("committed node")
	}
	if len(entries) == 0 {
		fmt.Println("no nodes committed for this domain")
	}
	return nil
}

func runMigrateDrop(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	var idx int
	if _, err := fmt.Sscanf(args[0], "%d", &idx); err != nil {
		return fmt.Errorf("migrate: invalid node index %q: %w", args[0], err)
	}
	return store.DeleteNode(context.Background(), node.NewIndex(idx))
}
