package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"go.klb.dev/ledgersync/internal/clip"
	"go.klb.dev/ledgersync/internal/routeid"
)

func newSyncIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncid",
		Short: "Manage the Sync ID stored in the local cache",
		Long: `The Sync ID is the shared secret that both locates a ledger on the server
and encrypts it. Only a hash of it ever leaves this machine.`,
	}
	cmd.AddCommand(newSyncIDShowCmd(), newSyncIDSetCmd(), newSyncIDClearCmd(), newSyncIDNewCmd())
	return cmd
}

func newSyncIDShowCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "show",
		Short:   "Print the stored Sync ID (masked) and its route",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v, false)
			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			if e.secret == "" {
				fmt.Fprintln(out, color.YellowString("no Sync ID set")+" (remote sync off)")
				return nil
			}
			shown := maskSecret(e.secret)
			if v.GetBool("reveal") {
				shown = e.secret
			}
			route, err := routeid.Derive(e.secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Sync ID:\t%s\nRoute:\t%s…\n", shown, routeid.Short(route))
			return nil
		},
	}
	cmd.Flags().Bool("reveal", false, "print the Sync ID in full")
	addLocalFlags(cmd)
	return cmd
}

func newSyncIDSetCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "set [sync-id]",
		Short: "Store a Sync ID",
		Long: `Stores the Sync ID in the local cache. Without an argument the ID is read
from a hidden terminal prompt, or from the first line of stdin when it is
not a terminal.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(v, false)
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				s, err := readSecret(cmd.InOrStdin(), "Sync ID: ")
				if err != nil {
					return err
				}
				secret = s
			}
			secret = strings.TrimSpace(secret)
			if secret == "" {
				return routeid.ErrEmptySecret
			}

			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()
			e.local.SetSyncID(secret)
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Sync ID stored")
			return nil
		},
	}
	addLocalFlags(cmd)
	return cmd
}

func newSyncIDClearCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove the stored Sync ID (turns remote sync off)",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v, false)
			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()
			e.local.SetSyncID("")
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Sync ID cleared")
			return nil
		},
	}
	addLocalFlags(cmd)
	return cmd
}

func newSyncIDNewCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate and store a random Sync ID",
		Long: `Generates a random Sync ID, stores it and prints it. Share it with the
devices that should see the same ledger. With --copy it is placed on the
system clipboard instead of printed, when one is available.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v, false)
			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()

			if e.secret != "" && !v.GetBool("force") {
				return fmt.Errorf("a Sync ID is already stored; pass --force to replace it")
			}
			secret := newSecret()
			e.local.SetSyncID(secret)

			out := cmd.OutOrStdout()
			if v.GetBool("copy") {
				cb := clip.New()
				err := cb.WriteText(secret)
				if err == nil {
					fmt.Fprintln(out, color.GreenString("✓")+" Sync ID stored and copied to the "+cb.Name())
					return nil
				}
				if !errors.Is(err, clip.ErrUnavailable) {
					return err
				}
				fmt.Fprintln(out, color.YellowString("!")+" no clipboard available, printing instead")
			}
			fmt.Fprintln(out, secret)
			return nil
		},
	}
	cmd.Flags().Bool("copy", false, "copy the new Sync ID to the clipboard")
	cmd.Flags().Bool("force", false, "replace an existing Sync ID")
	addLocalFlags(cmd)
	return cmd
}

// newSecret returns two concatenated random UUIDs without dashes (244 random bits).
func newSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// maskSecret keeps the first and last two characters.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// readSecret prompts without echo when in is the terminal, else reads a line.
func readSecret(in io.Reader, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading Sync ID: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading Sync ID: %w", err)
	}
	return line, nil
}
