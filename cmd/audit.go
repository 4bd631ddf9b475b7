package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okellodev/microgrid/config"
	coreaudit "github.com/okellodev/microgrid/core/audit"
	infraaudit "github.com/okellodev/microgrid/infra/audit"
)

var (
	auditKind  string
	auditSince time.Duration
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit record store",
	RunE:  queryAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditKind, "kind", "", "filter by record kind (decision, override, shed, command_failed, transition)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 24*time.Hour, "look-back window")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum records to return")
	rootCmd.AddCommand(auditCmd)
}

func queryAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var store coreaudit.Store
	switch cfg.Audit.Backend {
	case "sqlite":
		store, err = infraaudit.NewSQLiteStore(cfg.Audit.Path)
	default:
		store, err = infraaudit.NewJSONLStore(cfg.Audit.Path)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	recs, err := store.Query(context.Background(), coreaudit.Query{
		Kind:  auditKind,
		Since: time.Now().Add(-auditSince),
		Limit: auditLimit,
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
