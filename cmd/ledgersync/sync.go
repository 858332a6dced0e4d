package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/ledgersync/internal/remote"
)

func newPushCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Encrypt and upload the cached month to the server",
		Long: `Reads the month from the local cache, encrypts it under the Sync ID and
writes it to the storage endpoint, replacing whatever the server holds.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runPush(cmd, v) },
	}
	addMonthFlag(cmd)
	addClientFlags(cmd)
	return cmd
}

func newPullCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download and decrypt the month, replacing the local copy",
		Long: `Fetches the month from the storage endpoint. When the server has data it is
decrypted and written to the local cache; when it has none the local copy is
kept. On any failure the local copy is left untouched.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runPull(cmd, v) },
	}
	addMonthFlag(cmd)
	addClientFlags(cmd)
	cmd.Flags().Bool("print", false, "also print the resulting payload")
	return cmd
}

// newSpinner starts a spinner on stderr. It is silent when stderr is not a terminal.
func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	return s
}

func failMsg(msg string, err error) string {
	return color.RedString("✗") + " " + msg + ": " + err.Error() + "\n"
}

func runPush(cmd *cobra.Command, v *viper.Viper) error {
	m, err := resolveMonth(v)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.requireSecret(); err != nil {
		return err
	}

	payload := e.local.LoadLocal(m)
	if payload == nil {
		return fmt.Errorf("nothing cached for %s", m)
	}

	s := newSpinner("pushing " + m)
	err = e.client.SaveRemote(cmd.Context(), e.secret, m, payload)
	if err != nil {
		s.FinalMSG = failMsg("push failed", err)
		if errors.Is(err, remote.ErrTransport) {
			s.FinalMSG += color.CyanString("→") + " check --server, or run " + color.YellowString("ledgersync status") + "\n"
		}
		s.Stop()
		return err
	}
	s.FinalMSG = color.GreenString("✓") + fmt.Sprintf(" pushed %s (%d bytes)\n", m, len(payload))
	s.Stop()
	return nil
}

func runPull(cmd *cobra.Command, v *viper.Viper) error {
	m, err := resolveMonth(v)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.requireSecret(); err != nil {
		return err
	}

	s := newSpinner("pulling " + m)
	res := e.client.LoadRemote(cmd.Context(), e.secret, m)
	if !res.OK {
		s.FinalMSG = failMsg("pull failed", res.Err)
		if errors.Is(res.Err, remote.ErrDecryption) {
			s.FinalMSG += color.CyanString("→") + " the stored Sync ID does not match the one used to write this month\n"
		}
		s.Stop()
		return res.Err
	}

	data := res.Data
	if data == nil {
		s.FinalMSG = color.YellowString("•") + " server has nothing for " + m + ", local copy kept\n"
		s.Stop()
		data = e.local.LoadLocal(m)
	} else {
		if err := e.local.SaveLocal(m, data); err != nil {
			s.FinalMSG = failMsg("writing local cache", err)
			s.Stop()
			return err
		}
		s.FinalMSG = color.GreenString("✓") + " pulled " + m + "\n"
		s.Stop()
	}

	if v.GetBool("print") && data != nil {
		return printJSON(cmd.OutOrStdout(), data)
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
