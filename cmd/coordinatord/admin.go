package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations against a running coordinatord",
}

var baseURL string

func init() {
	adminCmd.PersistentFlags().StringVar(&baseURL, "http-addr", "http://localhost:8080", "coordinatord HTTP API base URL")
	adminCmd.AddCommand(statusCmd)
	adminCmd.AddCommand(banCmd)
	adminCmd.AddCommand(unbanCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show a job's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(fmt.Sprintf("%s/jobs/%s", baseURL, args[0]))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return printResponseBody(resp)
	},
}

var (
	banReason   string
	banDuration time.Duration
)

var banCmd = &cobra.Command{
	Use:   "ban WORKER_ID",
	Short: "Ban a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]any{
			"worker_id":   args[0],
			"reason":      banReason,
			"duration_ms": banDuration.Milliseconds(),
		})
		resp, err := http.Post(fmt.Sprintf("%s/admin/ban", baseURL), "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return printResponseBody(resp)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban WORKER_ID",
	Short: "Lift a worker's ban",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]any{"worker_id": args[0]})
		resp, err := http.Post(fmt.Sprintf("%s/admin/unban", baseURL), "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return printResponseBody(resp)
	},
}

func init() {
	banCmd.Flags().StringVar(&banReason, "reason", "", "ban reason")
	banCmd.Flags().DurationVar(&banDuration, "duration", time.Hour, "ban duration")
}

func printResponseBody(resp *http.Response) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n%s\n", resp.Proto, resp.Status, b)
	return nil
}
