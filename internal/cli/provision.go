package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/api/request"
	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/model"
)

func newProvisionCmd() *cobra.Command {
	var (
		req         request.ProvisionRequest
		proxiesFile string
		follow      bool
		jsonEvents  bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Start a provisioning task on the server",
		Long: `Generate and register a batch of accounts, then acquire a refresh token for each.

Identities are split into sub-batches of --session-share that each share one
browser session. At most --concurrency sessions are open at once.

The proxies file holds one host:port:user:pass per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.ClientID == "" {
				req.ClientID = cfg.OAuth.ClientID
			}
			if proxiesFile != "" {
				lines, err := readLines(proxiesFile)
				if err != nil {
					return err
				}
				req.Proxies = lines
			}

			var task response.Task
			if err := client.Post(cmd.Context(), "/api/v1/tasks/provision", req, &task); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(task)
			if !follow {
				return nil
			}
			return streamEvents(cmd.Context(), model.TaskID(task.ID), jsonEvents)
		},
	}

	cmd.Flags().IntVarP(&req.Quantity, "quantity", "n", 1, "Number of accounts to provision")
	cmd.Flags().IntVarP(&req.Concurrency, "concurrency", "c", request.DefaultConcurrency, "Maximum concurrent sessions")
	cmd.Flags().IntVar(&req.SessionShare, "session-share", request.DefaultSessionShare, "Identities per shared session")
	cmd.Flags().StringVar(&req.Domain, "domain", "", "Email domain for generated identities")
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "OAuth client ID (default from config)")
	cmd.Flags().StringVar(&proxiesFile, "proxies", "", "File of proxies, one per line")
	cmd.Flags().IntVar(&req.TokenConcurrency, "token-concurrency", 0, "Concurrent token acquisitions (default: concurrency)")
	cmd.Flags().BoolVar(&req.SkipAuthorization, "skip-auth", false, "Register only and skip token acquisition")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream the task's events until it finishes")
	cmd.Flags().BoolVar(&jsonEvents, "json-events", false, "Output followed events as JSON lines")

	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

// readLines reads non-blank lines from a file, or stdin when path is "-"
func readLines(path string) ([]string, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(data), nil
}

func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
