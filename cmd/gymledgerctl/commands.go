package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gymchain/gymchain-ledger/internal/client"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

func newClient(v *viper.Viper) (*client.Client, error) {
	return client.New(v.GetString("url"), client.WithWriteToken(v.GetString("token")))
}

func newAddCmd(v *viper.Viper) *cobra.Command {
	var expiry string

	cmd := &cobra.Command{
		Use:   "add <member-id> <status>",
		Short: "Append a membership block",
		Long: `Append a membership block for a member.

Examples:
  gymledgerctl add M-1001 active --expiry 2027-01-31
  gymledgerctl add M-1001 suspended --token $GYMLEDGER_TOKEN`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(v)
			if err != nil {
				return err
			}
			c, err := newClient(v)
			if err != nil {
				return err
			}
			req := protocol.AddMembershipRequest{MemberID: args[0], Status: args[1]}
			if expiry != "" {
				req.Expiry = &expiry
			}
			resp, err := c.AddMembership(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatJSON {
				return writeJSON(out, resp)
			}
			okColor.Fprintln(out, resp.Message)
			dimColor.Fprintf(out, "  index %d  hash %s\n", resp.Block.Index, shortHash(resp.Block.ContentHash))
			return nil
		},
	}
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry date (YYYY-MM-DD)")
	return cmd
}

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <member-id>",
		Short: "Resolve a member's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(v)
			if err != nil {
				return err
			}
			c, err := newClient(v)
			if err != nil {
				return err
			}
			resp, err := c.VerifyMembership(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatJSON {
				if err := writeJSON(out, resp); err != nil {
					return err
				}
			} else {
				switch {
				case resp.OK:
					okColor.Fprintln(out, resp.Message)
				case resp.Outcome == "tampered":
					badColor.Fprintln(out, resp.Message)
				default:
					warnColor.Fprintln(out, resp.Message)
				}
			}
			if !resp.OK {
				return errCheckFailed
			}
			return nil
		},
	}
}

func newValidCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "valid",
		Short: "Check the chain's hash links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(v)
			if err != nil {
				return err
			}
			c, err := newClient(v)
			if err != nil {
				return err
			}
			resp, err := c.ChainValid(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatJSON {
				if err := writeJSON(out, resp); err != nil {
					return err
				}
			} else if resp.Valid {
				okColor.Fprintf(out, "chain valid (%d blocks)\n", resp.Length)
			} else if resp.FailedIndex != nil {
				badColor.Fprintf(out, "chain INVALID at block %d: %s\n", *resp.FailedIndex, resp.Reason)
			} else {
				badColor.Fprintln(out, "chain INVALID")
			}
			if !resp.Valid {
				return errCheckFailed
			}
			return nil
		},
	}
}

func newBlocksCmd(v *viper.Viper) *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List the newest blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(v)
			if err != nil {
				return err
			}
			c, err := newClient(v)
			if err != nil {
				return err
			}
			blocks, err := c.Blocks(cmd.Context(), last)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatJSON {
				return writeJSON(out, blocks)
			}
			for _, b := range blocks {
				label := "-"
				if id, ok := b.Record.MemberID(); ok {
					label = fmt.Sprintf("%s %s", id, b.Record.Status())
				} else if info, ok := b.Record[protocol.FieldInfo].(string); ok {
					label = info
				}
				fmt.Fprintf(out, "#%-5d %s  %s  %s\n", b.Index, b.Timestamp, shortHash(b.ContentHash), label)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "number of blocks (server default when 0)")
	return cmd
}
