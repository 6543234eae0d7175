package cli

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/api/response"
)

// accountFilter holds the list/export query flags
type accountFilter struct {
	taskID     string
	authorized string
	used       string
}

func (f *accountFilter) register(cmd *cobra.Command, withAuthorized bool) {
	cmd.Flags().StringVar(&f.taskID, "task", "", "Only accounts created by this task")
	if withAuthorized {
		cmd.Flags().StringVar(&f.authorized, "authorized", "", "Filter on authorization: true or false")
	}
	cmd.Flags().StringVar(&f.used, "used", "", "Filter on used flag: true or false")
}

func (f *accountFilter) query() string {
	q := url.Values{}
	if f.taskID != "" {
		q.Set("task_id", f.taskID)
	}
	if f.authorized != "" {
		q.Set("authorized", f.authorized)
	}
	if f.used != "" {
		q.Set("used", f.used)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func accountPath(email string) string {
	return "/api/v1/accounts/" + url.PathEscape(email)
}

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage provisioned accounts",
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsGetCmd())
	cmd.AddCommand(newAccountsUseCmd())
	cmd.AddCommand(newAccountsRefreshCmd())
	cmd.AddCommand(newAccountsExportCmd())
	cmd.AddCommand(newAccountsDeleteCmd())

	return cmd
}

func newAccountsListCmd() *cobra.Command {
	filter := &accountFilter{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.AccountList
			if err := client.Get(cmd.Context(), "/api/v1/accounts"+filter.query(), &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
	filter.register(cmd, true)
	return cmd
}

func newAccountsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <email>",
		Short: "Show a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Account
			if err := client.Get(cmd.Context(), accountPath(args[0]), &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <email>",
		Short: "Mark an account as used so it is no longer exported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Account
			if err := client.Post(cmd.Context(), accountPath(args[0])+"/used", nil, &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <email>",
		Short: "Exchange an account's refresh token for a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Account
			if err := client.Post(cmd.Context(), accountPath(args[0])+"/refresh", nil, &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountsExportCmd() *cobra.Command {
	filter := &accountFilter{}
	var all bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print email|clientId|refreshToken for authorized accounts",
		Long:  `Print one line per authorized account. Used accounts are skipped unless --all or --used is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := []string{filter.query()}
			if all && filter.used == "" {
				// The export endpoint returns unused accounts unless told otherwise
				used := *filter
				used.used = "true"
				queries = append(queries, used.query())
			}

			var lines []string
			for _, q := range queries {
				text, err := client.Text(cmd.Context(), "/api/v1/accounts/export"+q)
				if err != nil {
					return err
				}
				lines = append(lines, splitNonEmpty(text)...)
			}
			NewOutput(cfg.Output).PrintLines(lines)
			return nil
		},
	}
	filter.register(cmd, false)
	cmd.Flags().BoolVar(&all, "all", false, "Include used accounts")
	return cmd
}

func newAccountsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), accountPath(args[0])); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Deleted " + args[0])
			return nil
		},
	}
}

func splitNonEmpty(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
