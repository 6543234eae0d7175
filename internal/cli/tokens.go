package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/api/request"
	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/identity"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/services/progress"
)

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Acquire OAuth refresh tokens",
		Long:  `Acquire refresh tokens locally from a credentials file, or start a token task on the server.`,
	}

	cmd.AddCommand(newTokensAcquireCmd())
	cmd.AddCommand(newTokensSubmitCmd())

	return cmd
}

// acquireOptions configures a local token run
type acquireOptions struct {
	OAuth       oauth.Config
	ClientID    string
	Concurrency int
	Identities  []model.Identity
}

func newTokensAcquireCmd() *cobra.Command {
	var (
		file        string
		clientID    string
		mode        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire tokens locally for email----password credentials",
		Long: `Read credentials, one email----password per line, and acquire a refresh token for each.

Each successful grant is printed to stdout as email|clientId|refreshToken.
Progress goes to stderr. When the device-code grant is used, the user code and
verification URL are printed to stderr for manual approval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(file)
			if err != nil {
				return err
			}
			identities, err := identity.ParseCredentials(text)
			if err != nil {
				return err
			}

			if clientID == "" {
				clientID = cfg.OAuth.ClientID
			}
			if mode == "" {
				mode = cfg.OAuth.Mode
			}
			if concurrency == 0 {
				concurrency = cfg.OAuth.Concurrency
			}
			grantMode, err := oauth.ParseMode(mode)
			if err != nil {
				return err
			}

			oauthCfg := oauth.DefaultConfig()
			oauthCfg.Authority = cfg.OAuth.Authority
			oauthCfg.Scope = cfg.OAuth.Scope
			oauthCfg.Mode = grantMode

			return runAcquire(cmd.Context(), acquireOptions{
				OAuth:       oauthCfg,
				ClientID:    clientID,
				Concurrency: concurrency,
				Identities:  identities,
			}, clock.New(), newLogger(cfg.Verbose), os.Stdout, os.Stderr)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Credentials file, - for stdin")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Grant mode: auto, password, device_code (default from config)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent acquisitions (default from config)")

	return cmd
}

// runAcquire acquires a token per identity, printing grant lines to stdout and
// progress to stderr. It fails when any identity did not get a token.
func runAcquire(ctx context.Context, opts acquireOptions, clk clock.Clock, logger *slog.Logger, stdout, stderr io.Writer) error {
	if opts.ClientID == "" {
		return errors.New("client ID is required")
	}
	if len(opts.Identities) == 0 {
		return errors.New("no credentials to acquire tokens for")
	}

	progressOut := &Output{format: "text", w: stderr}
	var mu sync.Mutex
	emit := progress.EmitterFunc(func(ev model.Event) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = clk.Now()
		}
		mu.Lock()
		defer mu.Unlock()
		progressOut.printEvent(ev)
	})

	acquirer := oauth.NewAcquirer(opts.OAuth, oauth.ManualApprover{}, clk, metrics.NewUnregistered(), logger)
	outcomes := acquirer.AcquireMany(ctx, opts.Identities, opts.ClientID, opts.Concurrency, emit)

	failed := 0
	for _, o := range outcomes {
		if !o.Success() {
			failed++
			continue
		}
		fmt.Fprintln(stdout, o.Grant.Line())
	}
	fmt.Fprintf(stderr, "%d of %d tokens acquired\n", len(outcomes)-failed, len(outcomes))
	if failed > 0 {
		return fmt.Errorf("%d of %d acquisitions failed", failed, len(outcomes))
	}
	return nil
}

func newTokensSubmitCmd() *cobra.Command {
	var (
		req    request.TokenRequest
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "submit [email...]",
		Short: "Start a token task on the server for stored accounts",
		Long:  `Acquire tokens for the named stored accounts, or for every unauthorized account when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Emails = args
			if req.ClientID == "" {
				req.ClientID = cfg.OAuth.ClientID
			}

			var task response.Task
			if err := client.Post(cmd.Context(), "/api/v1/tasks/tokens", req, &task); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(task)
			if !follow {
				return nil
			}
			return streamEvents(cmd.Context(), model.TaskID(task.ID), false)
		},
	}

	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "OAuth client ID (default from config)")
	cmd.Flags().IntVarP(&req.Concurrency, "concurrency", "c", 0, "Concurrent acquisitions")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream the task's events until it finishes")

	return cmd
}

// newLogger returns a stderr text logger, at debug level when verbose
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
