package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/ledgersync/internal/crypto"
	"go.klb.dev/ledgersync/internal/fetch"
	"go.klb.dev/ledgersync/internal/localstore"
	"go.klb.dev/ledgersync/internal/logging"
	"go.klb.dev/ledgersync/internal/month"
	"go.klb.dev/ledgersync/internal/remote"
	"go.klb.dev/ledgersync/internal/tlsconf"
	"go.klb.dev/ledgersync/internal/tracing"
)

const defaultServer = "http://localhost:8787"

// envReplacer maps flag names like sync-id to LEDGERSYNC_SYNC_ID.
var envReplacer = strings.NewReplacer("-", "_")

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and LEDGERSYNC_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → LEDGERSYNC_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("ledgersync")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/ledgersync/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/ledgersync", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, warn for CLI)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addTracingFlags adds the OpenTelemetry exporter flags.
func addTracingFlags(cmd *cobra.Command) {
	cmd.Flags().String("trace-exporter", "none", "trace exporter: none|stdout|otlp")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP collector host:port")
}

// addCacheFlags adds the local cache flags.
func addCacheFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("cache", "", "local cache database (default ~/.ledgersync/cache.db)")
	f.String("prefix", localstore.DefaultPrefix, "local cache key prefix")
	f.Duration("local-debounce", localstore.DefaultDebounce, "local write debounce window")
}

// addClientFlags adds everything a command talking to the storage endpoint needs.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", defaultServer, "storage endpoint base URL")
	f.String("sync-id", "", "Sync ID (default: the one stored in the local cache)")
	f.Duration("timeout", fetch.DefaultTimeout, "per-attempt request timeout")
	f.Int("retries", fetch.DefaultRetries, "retries after the first attempt")
	f.Duration("backoff", fetch.DefaultBackoff, "base retry backoff")
	f.Duration("remote-debounce", remote.DefaultDebounce, "remote write debounce window")
	f.String("tls-passphrase", "", "pin the server's passphrase-derived TLS key")
	addCacheFlags(cmd)
	addTracingFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
}

// addMonthFlag adds --month defaulting to the current month.
func addMonthFlag(cmd *cobra.Command) {
	cmd.Flags().String("month", "", "month as YYYY-MM (default: current month)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper, service bool) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, service, v.GetString("log-format"), v.GetString("log-level"))
}

// setupTracing installs the configured tracer. The returned func flushes it.
func setupTracing(ctx context.Context, v *viper.Viper, service string) (func(), error) {
	cfg := tracing.DefaultConfig()
	cfg.ExporterType = tracing.ParseExporter(v.GetString("trace-exporter"))
	cfg.OTLPEndpoint = v.GetString("otlp-endpoint")
	cfg.ServiceName = service
	cfg.Version = Version
	cfg.Output = os.Stderr

	t, err := tracing.Init(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.Shutdown(sctx); err != nil {
			slog.Warn("tracer shutdown", "err", err)
		}
	}, nil
}

// resolveMonth returns --month or the current month.
func resolveMonth(v *viper.Viper) (string, error) {
	m := v.GetString("month")
	if m == "" {
		return month.Current(), nil
	}
	if !month.Valid(m) {
		return "", fmt.Errorf("%w: %q", month.ErrInvalid, m)
	}
	return m, nil
}

// env bundles the local cache and remote client a command works with.
type env struct {
	storage *localstore.SQLiteStorage
	local   *localstore.Store
	client  *remote.Client
	secret  string
	stop    func()
}

// openLocal opens the local cache only.
func openLocal(v *viper.Viper) (*env, error) {
	st, err := localstore.OpenSQLite(v.GetString("cache"))
	if err != nil {
		return nil, err
	}
	local := localstore.New(st, localstore.Options{
		Prefix:   v.GetString("prefix"),
		Debounce: v.GetDuration("local-debounce"),
	})
	e := &env{storage: st, local: local}
	e.secret = local.GetSyncID()
	return e, nil
}

// openEnv opens the local cache and builds a client for --server. It also
// sets up logging and tracing; call close when done.
func openEnv(ctx context.Context, v *viper.Viper) (*env, error) {
	setupLogging(v, false)

	e, err := openLocal(v)
	if err != nil {
		return nil, err
	}
	if id := v.GetString("sync-id"); id != "" {
		e.secret = id
	}

	flush, err := setupTracing(ctx, v, "ledgersync-cli")
	if err != nil {
		e.close()
		return nil, err
	}
	e.stop = flush

	var httpClient *http.Client
	if p := v.GetString("tls-passphrase"); p != "" {
		if httpClient, err = tlsconf.HTTPClient(p); err != nil {
			e.close()
			return nil, err
		}
	}

	e.client = remote.New(v.GetString("server"), remote.Options{
		HTTPClient: httpClient,
		Fetch: fetch.Config{
			Timeout: v.GetDuration("timeout"),
			Retries: v.GetInt("retries"),
			Backoff: v.GetDuration("backoff"),
			Jitter:  fetch.DefaultJitter,
		},
		Debounce: v.GetDuration("remote-debounce"),
		Codec:    crypto.Codec{Params: crypto.DefaultParams},
	})
	return e, nil
}

// requireSecret fails when no Sync ID is configured.
func (e *env) requireSecret() error {
	if e.secret == "" {
		return fmt.Errorf("%w: run \"ledgersync syncid set\" or pass --sync-id", remote.ErrEmptySecret)
	}
	return nil
}

// close flushes pending writes and releases everything.
func (e *env) close() {
	if e.client != nil {
		e.client.Close()
	}
	e.local.Close()
	if err := e.storage.Close(); err != nil {
		slog.Warn("closing cache", "err", err)
	}
	if e.stop != nil {
		e.stop()
	}
}

// addLocalFlags adds the flags for commands that only touch the local cache.
func addLocalFlags(cmd *cobra.Command) {
	addCacheFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
}
