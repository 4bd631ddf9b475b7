package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okellodev/microgrid/config"
	"github.com/okellodev/microgrid/infra/mqtt"
)

var (
	overrideZone   string
	overrideState  string
	overrideRole   string
	overrideExpiry int
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Publish a manual override request for a zone",
	RunE:  publishOverride,
}

func init() {
	overrideCmd.Flags().StringVar(&overrideZone, "zone", "", "zone id")
	overrideCmd.Flags().StringVar(&overrideState, "state", "ON", "requested relay state (ON or OFF)")
	overrideCmd.Flags().StringVar(&overrideRole, "role", "admin", "issuer role (admin or household)")
	overrideCmd.Flags().IntVar(&overrideExpiry, "expiry", 3600, "override lifetime in seconds")
	_ = overrideCmd.MarkFlagRequired("zone")
	rootCmd.AddCommand(overrideCmd)
}

func publishOverride(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	payload, err := json.Marshal(map[string]any{
		"requested_state": overrideState,
		"issuer_role":     overrideRole,
		"expiry_seconds":  overrideExpiry,
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("microgrid/zone/%s/override", overrideZone)
	if err := client.PublishRaw(topic, 1, payload); err != nil {
		return fmt.Errorf("publish override: %w", err)
	}
	fmt.Printf("override published to %s\n", topic)
	return nil
}
