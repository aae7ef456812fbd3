// Command podiumd launches a podium nation from a constitution file and
// serves its websocket client channel until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"podium/internal/api"
	"podium/internal/blob"
	"podium/internal/config"
	"podium/internal/core"
	"podium/internal/ledger/drivers"
	"podium/internal/nation"
	"podium/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var constitutionPath string

	root := &cobra.Command{
		Use:   "podiumd",
		Short: "Run a podium nation",
		Long: "podiumd folds a nation's ledger history into live entities and\n" +
			"serves the websocket channel clients sync through.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&constitutionPath, "constitution", "c",
		"constitution.yaml", "path to the nation's constitution file")

	root.AddCommand(newLaunchCmd(&constitutionPath))
	root.AddCommand(newStatusCmd(&constitutionPath))
	root.AddCommand(newValidateCmd(&constitutionPath))
	return root
}

// newLaunchCmd runs the nation: a stored backup resumes it, otherwise the
// founder and root domain are created fresh.
func newLaunchCmd(constitutionPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Launch the nation and serve the client channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			constitution, err := config.Load(*constitutionPath)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{
				Level:   constitution.LogLevel(),
				JSON:    constitution.Logging.JSON,
				Service: "podiumd",
			})

			led, err := drivers.OpenFromEnv(constitution.Fullname())
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			blobs, err := blob.Open(cmd.Context())
			if err != nil {
				return fmt.Errorf("opening blob store: %w", err)
			}
			metrics, err := core.NewPrometheusMetricsRecorder(nil)
			if err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}

			n, err := nation.New(constitution, led, blobs, logger, metrics)
			if err != nil {
				return err
			}
			if err := n.Launch(cmd.Context()); err != nil {
				return fmt.Errorf("launching nation: %w", err)
			}

			var server *api.Server
			errs := make(chan error, 1)
			if constitution.HasService("api") {
				server = api.NewServer(n, listenAddr(constitution), logger)
				go func() { errs <- server.Start() }()
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case sig := <-stop:
				logger.Info("shutting down", "signal", sig.String())
			case err := <-errs:
				if err != nil {
					logger.Error("client channel failed", "error", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("closing client channel", "error", err)
				}
			}
			return n.Stop(ctx)
		},
	}
}

// newStatusCmd queries a running nation's status endpoint.
func newStatusCmd(constitutionPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running nation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			constitution, err := config.Load(*constitutionPath)
			if err != nil {
				return err
			}
			url := "http://" + hostFor(listenAddr(constitution)) + "/status"
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("querying %s: %w", url, err)
			}
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			var pretty json.RawMessage = raw
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				cmd.Println(string(raw))
				return nil
			}
			cmd.Println(string(out))
			return nil
		},
	}
}

// newValidateCmd checks a constitution without touching any backend.
func newValidateCmd(constitutionPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a constitution file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			constitution, err := config.Load(*constitutionPath)
			if err != nil {
				return err
			}
			cmd.Printf("constitution ok: %s\n", constitution.Fullname())
			return nil
		},
	}
}

func listenAddr(c config.Constitution) string {
	if c.API.Listen != "" {
		return c.API.Listen
	}
	return ":8910"
}

// hostFor turns a listen address into something dialable.
func hostFor(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
