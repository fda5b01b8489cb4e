// Package cli wires the renodectl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/renodectl/internal/config"
	"github.com/danmuck/renodectl/internal/observability"
	"github.com/spf13/cobra"
)

// exitError carries a child exit status out of a command.
type exitError struct {
	code int32
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, newRootCmd(), os.Args[1:])
}

func run(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return int(ee.code)
	}
	fmt.Fprintf(os.Stderr, "renodectl: %v\n", err)
	return 1
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	launch := &launchOptions{root: opts}

	cmd := &cobra.Command{
		Use:           "renodectl",
		Short:         "Start and inspect the Renode sensor bench",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			observability.InitLogger("renodectl " + cmd.Name())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return launch.run(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to renodectl.toml")
	launch.bind(cmd)

	cmd.AddCommand(
		launchCmd(opts),
		receiveCmd(opts),
		firmwareCmd(opts),
		viewCmd(opts),
		statsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Resolve(o.configPath)
}
