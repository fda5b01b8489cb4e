package cli

import (
	"fmt"
	"os"

	"github.com/danmuck/renodectl/internal/config"
	"github.com/danmuck/renodectl/internal/launcher"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type launchOptions struct {
	root   *rootOptions
	manual bool
	dryRun bool
}

func launchCmd(root *rootOptions) *cobra.Command {
	opts := &launchOptions{root: root}
	c := &cobra.Command{
		Use:   "launch",
		Short: "Start the receiver, the firmware emulator and Renode in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}
	opts.bind(c)
	return c
}

func (o *launchOptions) bind(c *cobra.Command) {
	c.Flags().BoolVar(&o.manual, "manual", false, "print the Renode command instead of running it")
	c.Flags().BoolVar(&o.dryRun, "dry-run", false, "print the startup plan and exit")
}

func (o *launchOptions) run(cmd *cobra.Command) error {
	cfg, err := o.root.load()
	if err != nil {
		return err
	}
	if o.manual {
		cfg.Renode.Mode = config.ModeManual
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate renodectl binary: %w", err)
	}
	cfgPath := ""
	if _, err := os.Stat(o.root.configPath); err == nil {
		cfgPath = o.root.configPath
	}
	plan := launcher.BuildPlan(cfg, self, cfgPath)

	out := cmd.OutOrStdout()
	if o.dryRun {
		for i, step := range plan.Steps {
			fmt.Fprintf(out, "[%d/%d] %s (%s): %s\n", i+1, len(plan.Steps), step.Name, step.Mode, step.CommandLine())
		}
		return nil
	}

	res, err := launcher.New(launcher.WithOutput(out)).Launch(cmd.Context(), plan)
	if err != nil {
		log.Error().Err(err).Msg("cli.launch failed")
		fmt.Fprintf(cmd.ErrOrStderr(), "renodectl: %v\n", err)
		return exitError{code: nonZero(res.ExitCode)}
	}
	if res.ExitCode != 0 {
		return exitError{code: res.ExitCode}
	}
	return nil
}

func nonZero(code int32) int32 {
	if code == 0 {
		return 1
	}
	return code
}
