package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/batteryshark/agent-armory/pkg/router"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Check on a running server and list the tools it serves.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8080", "server address")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(statusAddr + "/healthz")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: unhealthy (%d)\n", resp.StatusCode)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Status: running")

	tools, err := fetchTools(client)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tools: %d\n", len(tools))
	for _, tool := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", tool.Name, tool.Version)
	}
	return nil
}

type toolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func fetchTools(client *http.Client) ([]toolInfo, error) {
	body, _ := json.Marshal(router.Message{
		Kind:      router.KindDiscovery,
		SessionID: "cli-status",
	})
	resp, err := client.Post(statusAddr+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
		Result struct {
			Tools []toolInfo `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != router.StatusOK {
		return nil, fmt.Errorf("unexpected response status %q", out.Status)
	}
	return out.Result.Tools, nil
}
