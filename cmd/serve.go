package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/jetstack/securesession/pkg/config"
	"github.com/jetstack/securesession/pkg/logs"
	"github.com/jetstack/securesession/pkg/server"
)

type serveOptions struct {
	Listen        string
	UsersFile     string
	Code          string
	OAEPHash      string
	SessionTTL    time.Duration
	EnableMetrics bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a reference document server",
	Long: `Starts a server implementing the handshake, login and verify endpoints,
plus an authenticated echo endpoint. It can be used to try out the login
command without a real document server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveOpts, color.Output)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.PersistentFlags().StringVarP(
		&serveOpts.Listen,
		"listen",
		"l",
		":8080",
		"Address where to listen.",
	)
	serveCmd.PersistentFlags().StringVar(
		&serveOpts.UsersFile,
		"users-file",
		"",
		`Location of a JSON file with a list of users, each with "login", "password" and an optional base64 "secret".`,
	)
	serveCmd.PersistentFlags().StringVar(
		&serveOpts.Code,
		"code",
		"",
		"Verification code accepted by the verify endpoint. Sessions requesting verification are refused when empty.",
	)
	serveCmd.PersistentFlags().StringVar(
		&serveOpts.OAEPHash,
		"oaep-hash",
		"sha1",
		`OAEP hash used for PEM encoded RSA keys: "sha1" or "sha256".`,
	)
	serveCmd.PersistentFlags().DurationVar(
		&serveOpts.SessionTTL,
		"session-ttl",
		server.DefaultSessionTTL,
		"How long an idle session is kept.",
	)
	serveCmd.PersistentFlags().BoolVar(
		&serveOpts.EnableMetrics,
		"enable-metrics",
		false,
		"Expose Prometheus metrics on /metrics.",
	)
}

// newServeHandler builds the reference server and, optionally, the metrics
// endpoint.
func newServeHandler(logger logr.Logger, opts serveOptions, out io.Writer) (http.Handler, error) {
	if opts.UsersFile == "" {
		return nil, fmt.Errorf("--users-file is required")
	}

	data, err := os.ReadFile(opts.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	users, err := config.ParseUsers(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	s, err := server.New(server.Options{
		Users:      users,
		Code:       opts.Code,
		OAEPHash:   opts.OAEPHash,
		SessionTTL: opts.SessionTTL,
		Logger:     logger,
		Out:        out,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/", s)
	if opts.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux, nil
}

func runServe(ctx context.Context, opts serveOptions, out io.Writer) error {
	logger := klog.FromContext(ctx).WithValues("source", "serve")

	handler, err := newServeHandler(logger, opts, out)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logs.LogToSlogWriter{Slog: slog.Default(), Source: "http-server"}, "", 0),
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "failed to shut down server")
		}
	}()

	color.New(color.FgCyan).Fprintf(out, "Listening to requests at %s\n", opts.Listen)
	if opts.EnableMetrics {
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
