package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kassym/agrozone/internal/api"
	"github.com/kassym/agrozone/internal/config"
)

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for API access",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		token, err := api.SignToken(cfg.Auth.JWTSecret, user, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("signing token: %w", err)
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}

// --- zone ---

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Manage zones",
}

var zoneCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a zone",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}

		req := map[string]any{"name": name}
		if cmd.Flags().Changed("lat") {
			lat, _ := cmd.Flags().GetFloat64("lat")
			req["latitude"] = lat
		}
		if cmd.Flags().Changed("lon") {
			lon, _ := cmd.Flags().GetFloat64("lon")
			req["longitude"] = lon
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/zones", req)
		if err != nil {
			return err
		}

		var zone map[string]any
		if err := decodeJSON(resp, &zone); err != nil {
			return err
		}

		printSuccess("Created zone %v", zone["id"])
		return nil
	},
}

var zoneShowCmd = &cobra.Command{
	Use:   "show <zone-id>",
	Short: "Show a zone's current aggregated conditions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/zones/%s/conditions?hours=%d", args[0], hours))
		if err != nil {
			return err
		}

		var conditions map[string]any
		if err := decodeJSON(resp, &conditions); err != nil {
			return err
		}

		out, err := json.MarshalIndent(conditions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend <zone-id>",
	Short: "Request a crop recommendation for a zone",
	Long: `Request a crop recommendation for a zone.

Generation runs in the background; poll with --wait to block until the
recommendation leaves the pending state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/zones/%s/recommendations", args[0]), nil)
		if err != nil {
			return err
		}

		var rec map[string]any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		id, _ := rec["id"].(string)
		printSuccess("Queued recommendation %s", id)

		if !wait {
			return nil
		}

		for i := 0; i < 60; i++ {
			time.Sleep(time.Second)

			resp, err := client.get(cmd.Context(), "/recommendations/"+id)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
			status, _ := rec["status"].(string)
			if status != "pending" {
				if response, ok := rec["response"].(string); ok && response != "" {
					fmt.Fprintln(os.Stdout, response)
				}
				if status == "failed" {
					return fmt.Errorf("generation failed: %v", rec["failure_reason"])
				}
				return nil
			}
		}
		printWarning("recommendation %s is still pending", id)
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <zone-id> <message>",
	Short: "Ask the agronomy assistant about a zone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/zones/%s/chat", args[0]), map[string]string{
			"message": args[1],
		})
		if err != nil {
			return err
		}

		var out struct {
			Reply string `json:"reply"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out.Reply)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id to embed in the token subject")

	zoneCreateCmd.Flags().String("name", "", "zone name")
	zoneCreateCmd.Flags().Float64("lat", 0, "zone latitude")
	zoneCreateCmd.Flags().Float64("lon", 0, "zone longitude")
	zoneShowCmd.Flags().Int("hours", 24, "trailing reading window in hours")

	recommendCmd.Flags().Bool("wait", false, "poll until generation finishes")

	zoneCmd.AddCommand(zoneCreateCmd)
	zoneCmd.AddCommand(zoneShowCmd)
}
