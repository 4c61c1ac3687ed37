package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/agent/acp"
	"github.com/m4xw311/conductor/agent/terminal"
	"github.com/m4xw311/conductor/app"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/tools"
)

type options struct {
	app    app.Options
	name   string
	resume string
	acp    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "conductor [prompt]",
		Short:         "An agentic coding assistant for the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.app.Dir, "dir", "", "Project directory (defaults to the working directory)")
	pf.StringVar(&opts.app.ConfigPath, "config", "", "Load configuration from this file instead of the user and project files")
	pf.CountVarP(&opts.app.Verbosity, "verbose", "v", "Increase log verbosity (repeatable)")

	f := cmd.Flags()
	f.StringVarP(&opts.name, "session", "s", "", "Session name to create")
	f.StringVarP(&opts.resume, "resume", "r", "", "Resume a session by name")
	f.StringVarP(&opts.app.Model, "model", "m", "", "Override the configured model")
	f.BoolVar(&opts.acp, "acp", false, "Serve the Agent Client Protocol over stdio")
	cmd.MarkFlagsMutuallyExclusive("session", "resume")

	cmd.AddCommand(newInitCmd(&opts))
	return cmd
}

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default ignore file in the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := opts.app.Dir
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return errors.Wrapf(err, "could not get working directory")
				}
				dir = wd
			}
			created, err := tools.WriteDefaultIgnore(dir)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", tools.IgnoreFileName)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", tools.IgnoreFileName)
			}
			return nil
		},
	}
}

func run(ctx context.Context, opts options, prompt string, out io.Writer) error {
	a, err := app.New(ctx, opts.app)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.acp {
		// stdout carries JSON-RPC only.
		return acp.Run(ctx, a.NewSession, os.Stdin, os.Stdout, a.Log)
	}

	sess, err := openSession(a, opts, out)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Conductor is ready. Type your prompt, or /help.")
	err = terminal.New(sess, terminal.WithOutput(out)).Run(ctx, prompt)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSession(a *app.App, opts options, out io.Writer) (*agent.Session, error) {
	if opts.resume != "" {
		sess, err := a.NewSession(opts.resume, true)
		if err != nil {
			return nil, errors.Wrapf(err, "error resuming session '%s'", opts.resume)
		}
		fmt.Fprintf(out, "Resuming session: %s\n", opts.resume)
		return sess, nil
	}
	name := opts.name
	if name == "" {
		name = app.DefaultSessionName(a.Dir, time.Now())
	}
	sess, err := a.NewSession(name, false)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating session '%s'", name)
	}
	fmt.Fprintf(out, "Starting new session: %s\n", name)
	return sess, nil
}
