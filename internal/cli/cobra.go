package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/relay/internal/client"
	"github.com/ChuLiYu/relay/internal/config"
)

var (
	configPath string
	version    = "dev"
)

// SetVersion lets cmd/relay inject build-time version info.
func SetVersion(v string) { version = v }

// BuildRoot assembles the "relay" cobra root command and its subcommands.
func BuildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:     "relay",
		Short:   "relay is a multi-queue job broker",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(buildServeCommand())
	root.AddCommand(buildEnqueueCommand())
	root.AddCommand(buildStatusCommand())
	root.AddCommand(buildWorkCommand())
	return root
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.EnvOverride(config.Default()), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return config.EnvOverride(cfg), nil
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the relay broker (HTTP surface, reaper, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log := slog.New(slog.NewTextHandler(os.Stdout, nil))
			ctx, cancel := WaitForSignal(cmd.Context())
			defer cancel()

			return Serve(ctx, cfg, log)
		},
	}
}

func buildEnqueueCommand() *cobra.Command {
	var (
		server      string
		queue       string
		id          string
		timeout     string
		maxRetries  uint8
		persistData bool
		payload     string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "submit one job to a running relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"id":           id,
				"timeout":      timeout,
				"max_retries":  maxRetries,
				"persist_data": persistData,
				"payload":      []byte(payload),
			}
			b, err := json.Marshal(body)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/queues/%s/jobs", server, queue)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(b))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				return fmt.Errorf("enqueue failed: status %d", resp.StatusCode)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued to %s\n", queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "relay server base URL")
	cmd.Flags().StringVar(&queue, "queue", "default", "target queue")
	cmd.Flags().StringVar(&id, "id", "", "job id (server-assigned if omitted)")
	cmd.Flags().StringVar(&timeout, "timeout", "30s", "job timeout")
	cmd.Flags().Uint8Var(&maxRetries, "max-retries", 0, "max retries")
	cmd.Flags().BoolVar(&persistData, "persist", false, "require durable persistence")
	cmd.Flags().StringVar(&payload, "payload", "", "job payload")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "print per-queue stats from a running relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, server+"/status", nil)
			if err != nil {
				return err
			}

			resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status failed: status %d", resp.StatusCode)
			}

			var body struct {
				Queues map[string]struct {
					Pending  int `json:"pending"`
					InFlight int `json:"in_flight"`
				} `json:"queues"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return err
			}

			names := make([]string, 0, len(body.Queues))
			for name := range body.Queues {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				q := body.Queues[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tpending=%d\tin_flight=%d\n", name, q.Pending, q.InFlight)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "relay server base URL")
	return cmd
}

func buildWorkCommand() *cobra.Command {
	var workerConfigPath string

	cmd := &cobra.Command{
		Use:   "work",
		Short: "run the demo polling worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg client.WorkerConfig
			var err error
			if workerConfigPath == "" {
				cfg = client.DefaultWorkerConfig()
			} else {
				cfg, err = client.LoadWorkerConfig(workerConfigPath)
				if err != nil {
					return err
				}
			}

			poller, err := client.NewPoller(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := WaitForSignal(cmd.Context())
			defer cancel()

			log := slog.New(slog.NewTextHandler(os.Stdout, nil))
			poller.Log = log
			log.Info("worker starting", "queue", cfg.Queue, "server", cfg.BaseURL)

			err = poller.Run(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&workerConfigPath, "config", "", "path to TOML worker config file")
	return cmd
}
