package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okellodev/microgrid/config"
	"github.com/okellodev/microgrid/infra/mqtt"
)

var clearZone string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear an active emergency condition after manual intervention",
	RunE:  publishClear,
}

func init() {
	clearCmd.Flags().StringVar(&clearZone, "zone", "", "affected zone id (empty clears any state)")
	rootCmd.AddCommand(clearCmd)
}

func publishClear(cmd *cobra.Command, args []string) error {
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
		"zone_id": clearZone,
		"by":      "admin",
	})
	if err != nil {
		return err
	}
	if err := client.PublishRaw(cfg.MQTT.ClearTopic, 1, payload); err != nil {
		return fmt.Errorf("publish clear: %w", err)
	}
	fmt.Printf("emergency clear published to %s\n", cfg.MQTT.ClearTopic)
	return nil
}
