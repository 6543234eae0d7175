package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/dependencies/random"
	"github.com/mcoot/provisioner/internal/services/identity"
)

func newIdentitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "Work with synthetic identities",
	}

	cmd.AddCommand(newIdentitiesGenerateCmd())

	return cmd
}

func newIdentitiesGenerateCmd() *cobra.Command {
	var (
		count  int
		domain string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate identities locally without registering them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := identity.New(random.New()).GenerateN(domain, count)
			if err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(ids)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of identities")
	cmd.Flags().StringVar(&domain, "domain", "", "Email domain")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}
