package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"SessionBench/internal/config"
	"SessionBench/internal/identity"
)

func newIdentityCmd(global *globalFlags) *cobra.Command {
	var index uint64

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the identity derived at --index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			return printIdentity(cfg, index, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Uint64Var(&index, "index", 0,
		"Generator index")

	return cmd
}

// printIdentity prints the accounts and key material at index.
func printIdentity(cfg *config.Config, index uint64, out io.Writer) error {
	gen, err := identity.NewGenerator([]byte(cfg.Seed))
	if err != nil {
		return fmt.Errorf("create identity generator:\n%w", err)
	}

	id, err := gen.IdentityFor(index)
	if err != nil {
		return fmt.Errorf("derive identity %d:\n%w", index, err)
	}

	fmt.Fprintf(out, "index        %d\n", id.Index)
	fmt.Fprintf(out, "participant  %s\n", id.Participant)
	fmt.Fprintf(out, "controller   %s\n", id.Controller)

	for i, key := range id.Keys.Keys {
		fmt.Fprintf(out, "%-12s %x\n", key.Role, key.Bytes)
		fmt.Fprintf(out, "  proof      %x\n", id.Keys.Proof[i])
	}

	return nil
}
