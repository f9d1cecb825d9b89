// Package main implements the swarmctl CLI for manual operations against
// the swarmd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the swarmd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "CLI for swarmd HTTP server operations",
	Long: `swarmctl is a command-line interface for interacting with the swarmd daemon.
It provides commands for submitting tasks, inspecting lineages, and checking
server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9611", "swarmd server URL")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

// submitCmd submits a task to the pipeline
var submitCmd = &cobra.Command{
	Use:   "submit [payload]",
	Short: "Submit a task to the pipeline",
	Long: `Submit a task description to the swarmd pipeline.

Examples:
  # Submit a task
  swarmctl submit "build a portfolio app"

  # Submit from stdin
  cat task.txt | swarmctl submit -

  # Use a different server
  swarmctl submit --server http://localhost:8080 "build a portfolio app"`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

// statusCmd reports a lineage's state
var statusCmd = &cobra.Command{
	Use:   "status <lineage-id>",
	Short: "Show the state of a lineage",
	Long: `Show the pipeline state and attempt history of a lineage.

Examples:
  # Check a lineage
  swarmctl status 5f0c2e9a-...`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check swarmd server health",
	Long: `Check the health status of the swarmd HTTP server.

Examples:
  # Check health
  swarmctl health

  # Check health on a different server
  swarmctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// SubmitRequest matches internal/server SubmitRequest
type SubmitRequest struct {
	Payload string `json:"payload"`
}

// SubmitResponse matches internal/server SubmitResponse
type SubmitResponse struct {
	TaskID    string `json:"task_id"`
	LineageID string `json:"lineage_id"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload := args[0]
	if payload == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = string(data)
	}

	body, err := json.Marshal(SubmitRequest{Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := httpClient().Post(serverURL+"/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}

	var submitted SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Task submitted\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Task ID:    %s\n", submitted.TaskID)
	fmt.Fprintf(cmd.OutOrStdout(), "Lineage ID: %s\n", submitted.LineageID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/tasks/" + args[0])
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("unknown lineage: %s", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}

	// Pretty-print the raw JSON rather than mirroring the status schema.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	resp, err := httpClient().Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Server is healthy")
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
