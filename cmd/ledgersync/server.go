package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/ledgersync/internal/kvserver"
	"go.klb.dev/ledgersync/internal/routeid"
	"go.klb.dev/ledgersync/internal/tlsconf"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the storage endpoint",
		Long: `Starts the key-value storage endpoint used by sync clients:

  GET|PUT /api/storage/{routeId}/{month}
  GET     /api/health

gRPC health checks (grpc.health.v1) are served on the same port.

With --require-space, a route must be provisioned with "ledgersync provision"
before it can be read or written.

Precedence (lowest → highest): defaults → config file → LEDGERSYNC_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServer(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:8787", "TCP listen address")
	f.String("db", "", "SQLite database path (empty = in-memory)")
	f.Bool("require-space", false, "reject routes without a provisioned space marker")
	f.Int64("max-body", kvserver.DefaultMaxBody, "maximum PUT body size in bytes")
	f.String("tls-passphrase", "", "serve TLS with a key derived from this passphrase")
	addTracingFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func openServerStore(path string) (kvserver.Store, error) {
	if path == "" {
		return kvserver.NewMemoryStore(), nil
	}
	return kvserver.OpenSQLiteStore(path)
}

func runServer(ctx context.Context, v *viper.Viper) error {
	setupLogging(v, true)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush, err := setupTracing(ctx, v, "ledgersync-server")
	if err != nil {
		return err
	}
	defer flush()

	dbPath := v.GetString("db")
	store, err := openServerStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var tlsCfg *tls.Config
	if p := v.GetString("tls-passphrase"); p != "" {
		if tlsCfg, err = tlsconf.ServerConfig(p); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}

	srv, err := kvserver.New(store, kvserver.Config{
		Version:      Version,
		RequireSpace: v.GetBool("require-space"),
		MaxBody:      v.GetInt64("max-body"),
		TLS:          tlsCfg,
	})
	if err != nil {
		return err
	}

	slog.Info("ledgersync server starting",
		"version", Version,
		"addr", v.GetString("addr"),
		"db", dbPath,
		"persistent", dbPath != "",
	)
	return srv.ListenAndServe(ctx, v.GetString("addr"))
}

func newProvisionCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "provision <sync-id>",
		Short: "Create the space marker for a Sync ID in a server database",
		Long: `Writes the space marker for the route derived from <sync-id> into the
server's SQLite database, so a server started with --require-space accepts it.
The Sync ID itself is not stored.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, v, args[0])
		},
	}

	f := cmd.Flags()
	f.String("db", "", "SQLite database path of the server (required)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runProvision(cmd *cobra.Command, v *viper.Viper, secret string) error {
	setupLogging(v, false)

	dbPath := v.GetString("db")
	if dbPath == "" {
		return fmt.Errorf("--db is required")
	}
	route, err := routeid.Derive(secret)
	if err != nil {
		return err
	}

	store, err := kvserver.OpenSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := kvserver.New(store, kvserver.Config{})
	if err != nil {
		return err
	}
	if err := srv.Provision(cmd.Context(), route); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "provisioned route %s\n", route)
	return nil
}
