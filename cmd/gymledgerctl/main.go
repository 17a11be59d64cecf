package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errCheckFailed marks a completed command whose verdict was negative.
var errCheckFailed = errors.New("check failed")

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errCheckFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetEnvPrefix("GYMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return newRootCmd(v).ExecuteContext(context.Background())
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gymledgerctl",
		Short: "Gym membership ledger control tool",
		Long: `gymledgerctl - talk to a gymledger server or audit its store.

Client commands:
  gymledgerctl add <member-id> <status> [--expiry YYYY-MM-DD]
  gymledgerctl verify <member-id>
  gymledgerctl valid
  gymledgerctl blocks [--last N]

Offline commands:
  gymledgerctl audit --config configs/gymledger.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:5000", "ledger base url")
	_ = v.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().String("token", "", "write token for add")
	_ = v.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(newAddCmd(v))
	rootCmd.AddCommand(newVerifyCmd(v))
	rootCmd.AddCommand(newValidCmd(v))
	rootCmd.AddCommand(newBlocksCmd(v))
	rootCmd.AddCommand(newAuditCmd(v))
	return rootCmd
}
