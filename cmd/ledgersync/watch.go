package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/ledgersync/internal/filewatch"
	"go.klb.dev/ledgersync/internal/remote"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Keep a JSON file in sync with the cached and remote month",
		Long: `Opens the month the way the ledger app does: the remote copy, when one
exists and decrypts, replaces the local cache and is written to <file>.
Afterwards every saved edit of <file> is written to the local cache and,
when a Sync ID is set, encrypted and uploaded. Both writes are debounced.

Runs until interrupted; pending writes are flushed on exit.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), v, args[0])
		},
	}
	cmd.Flags().Duration("settle", filewatch.DefaultSettle, "quiet time before a file change is read")
	addMonthFlag(cmd)
	addClientFlags(cmd)
	return cmd
}

func runWatch(ctx context.Context, v *viper.Viper, path string) error {
	m, err := resolveMonth(v)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, v)
	if err != nil {
		return err
	}
	setupLogging(v, true)
	defer e.close()

	session := remote.NewSession(e.local, e.client, func(st remote.Status) {
		slog.Info("sync status", "month", m, "status", st.String())
	})
	if e.secret != session.Secret() {
		session.Connect(e.secret)
	}
	defer session.Flush()

	w, err := filewatch.New(path, v.GetDuration("settle"))
	if err != nil {
		return err
	}

	data, _ := session.Open(ctx, m)
	if err := seedFile(w, data); err != nil {
		return err
	}

	slog.Info("watching", "file", w.Path(), "month", m, "remote", session.Status().String())
	return w.Run(ctx, func(content []byte) {
		content = bytes.TrimSpace(content)
		if !json.Valid(content) {
			slog.Warn("ignoring edit: not valid JSON", "file", w.Path())
			return
		}
		slog.Debug("file changed", "file", w.Path(), "bytes", len(content))
		session.Save(m, json.RawMessage(content))
	})
}

// seedFile writes data to the watched file. Without data the existing file is
// left as it is and its content is taken as already synced.
func seedFile(w *filewatch.Watcher, data json.RawMessage) error {
	if data == nil {
		existing, err := os.ReadFile(w.Path())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		w.MarkSeen(existing)
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("formatting %s: %w", w.Path(), err)
	}
	buf.WriteByte('\n')
	w.MarkSeen(buf.Bytes())
	return os.WriteFile(w.Path(), buf.Bytes(), 0o600)
}
