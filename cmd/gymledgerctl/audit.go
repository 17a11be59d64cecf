package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gymchain/gymchain-ledger/internal/app"
	"github.com/gymchain/gymchain-ledger/internal/audit"
	"github.com/gymchain/gymchain-ledger/internal/config"
)

func newAuditCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify a stored chain without a running server",
		Long: `Open the configured block store directly and check every block's
hash link, content hash and issuer signature.

The command exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(v)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			report, err := runAudit(cmd, cfg)
			if err != nil {
				return err
			}
			if err := renderAudit(cmd.OutOrStdout(), format, report); err != nil {
				return err
			}
			if !report.OK() {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/gymledger.yaml", "path to ledger config")
	return cmd
}

func runAudit(cmd *cobra.Command, cfg *config.Config) (audit.Report, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return audit.Report{}, errors.New("audit requires a persistent storage backend")
	}
	l, store, err := app.OpenLedger(cmd.Context(), cfg)
	if err != nil {
		return audit.Report{}, err
	}
	defer store.Close()
	return audit.Run(l, cfg.Issuer.Name, cfg.Storage.Backend, time.Now()), nil
}

func renderAudit(w io.Writer, format outputFormat, r audit.Report) error {
	switch format {
	case formatJSON:
		return writeJSON(w, r)
	case formatMarkdown:
		_, err := io.WriteString(w, r.Markdown())
		return err
	}
	fmt.Fprintf(w, "issuer   %s (%s)\n", r.Issuer, r.Backend)
	fmt.Fprintf(w, "blocks   %d, latest %s\n", r.Length, shortHash(r.LatestHash))
	fmt.Fprintf(w, "members  %d\n", r.Members)
	for _, check := range []struct {
		name string
		ok   bool
	}{{"hash chain", r.ChainValid}, {"signatures", r.SignaturesValid}} {
		if check.ok {
			okColor.Fprintf(w, "  ok    %s\n", check.name)
		} else {
			badColor.Fprintf(w, "  FAIL  %s\n", check.name)
		}
	}
	if r.FailedIndex != nil {
		badColor.Fprintf(w, "first failure at block %d: %s\n", *r.FailedIndex, r.Reason)
	}
	return nil
}
