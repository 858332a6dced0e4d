package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/ledgersync/internal/transfer"
)

func newExportCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the cached month as an export document",
		Long: `Writes the cached month as a ` + transfer.Schema + ` document, in JSON or
YAML, to --out or stdout. Missing row lists are exported as empty lists.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runExport(cmd, v) },
	}
	f := cmd.Flags()
	f.String("format", "json", "output format: json|yaml")
	f.StringP("out", "o", "", "output file (default stdout)")
	addMonthFlag(cmd)
	addLocalFlags(cmd)
	return cmd
}

func runExport(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v, false)
	format, err := transfer.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}
	m, err := resolveMonth(v)
	if err != nil {
		return err
	}
	e, err := openLocal(v)
	if err != nil {
		return err
	}
	defer e.close()

	doc, err := transfer.Build(m, e.local.LoadLocal(m), time.Now())
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if path := v.GetString("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return transfer.Encode(w, doc, format)
}

func newImportCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load an export document into the local cache",
		Long: `Reads a ` + transfer.Schema + ` document (JSON or YAML) from file, or stdin
when file is "-" or omitted, and replaces the cached copy of the month it
names. With --push the month is also uploaded.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runImport(cmd, v, path)
		},
	}
	cmd.Flags().Bool("push", false, "upload the imported month to the server")
	addClientFlags(cmd)
	return cmd
}

func runImport(cmd *cobra.Command, v *viper.Viper, path string) error {
	raw, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	doc, err := transfer.Decode(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	payload, err := doc.Payload()
	if err != nil {
		return err
	}

	e, err := openEnv(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.local.SaveLocal(doc.Month, payload); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s imported %s (%d entradas, %d ledger items)\n",
		color.GreenString("✓"), doc.Month, len(doc.EntradasRows), len(doc.LedgerItems))

	if !v.GetBool("push") {
		return nil
	}
	if err := e.requireSecret(); err != nil {
		return err
	}
	if err := e.client.SaveRemote(cmd.Context(), e.secret, doc.Month, payload); err != nil {
		fmt.Fprint(out, failMsg("push failed", err))
		return err
	}
	fmt.Fprintln(out, color.GreenString("✓")+" pushed "+doc.Month)
	return nil
}
