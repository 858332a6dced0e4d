package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and edit the local month cache",
	}
	cmd.AddCommand(newCacheListCmd(), newCacheShowCmd(), newCachePutCmd())
	return cmd
}

func newCacheListCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List cached months",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v, false)
			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()

			months, err := e.local.Months()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(months) == 0 {
				fmt.Fprintln(out, "No months cached.")
				return nil
			}
			for _, m := range months {
				fmt.Fprintln(out, m)
			}
			return nil
		},
	}
	addLocalFlags(cmd)
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "show",
		Short:   "Print the cached payload for a month",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v, false)
			m, err := resolveMonth(v)
			if err != nil {
				return err
			}
			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()

			data := e.local.LoadLocal(m)
			if data == nil {
				return fmt.Errorf("nothing cached for %s", m)
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	addMonthFlag(cmd)
	addLocalFlags(cmd)
	return cmd
}

func newCachePutCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Replace the cached payload for a month",
		Long: `Reads a JSON document from file (or stdin when file is "-" or omitted) and
writes it to the local cache for --month. Nothing is sent to the server; use
"ledgersync push" for that.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(v, false)
			m, err := resolveMonth(v)
			if err != nil {
				return err
			}
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			raw, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("%s: not valid JSON", path)
			}

			e, err := openLocal(v)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.local.SaveLocal(m, json.RawMessage(raw)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" cached "+m)
			return nil
		},
	}
	addMonthFlag(cmd)
	addLocalFlags(cmd)
	return cmd
}

// readInput reads path, or stdin for "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
