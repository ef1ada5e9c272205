// Package cli assembles the heliod command tree. The bare root command
// starts the module daemon; the subcommands maintain or inspect the
// same configuration directory without starting it.
package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/heliod-dev/heliod/internal/version"
	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/events"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/modules"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/persistence"
	"github.com/heliod-dev/heliod/pkg/shell"
	"github.com/heliod-dev/heliod/pkg/ui"
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	var (
		verbosity  int
		configHome string
		selection  []string
		dryRun     bool
		testRun    bool
	)

	rootCmd := &cobra.Command{
		Use:     "heliod",
		Short:   MsgRootShort,
		Long:    MsgRootLong,
		Version: version.Version,
		Args:    cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configHome, selection, dryRun, testRun)
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	// Global flags
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", MsgFlagVerbose)
	rootCmd.PersistentFlags().StringVarP(&configHome, "config", "c", "", MsgFlagConfig)
	rootCmd.PersistentFlags().StringArrayVarP(&selection, "module", "m", nil, MsgFlagModule)
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, MsgFlagDryRun)
	rootCmd.Flags().BoolVar(&testRun, "test", false, MsgFlagTest)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newModulesCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newResetSetupCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// initPaths resolves the configuration directory from the --config
// flag, HELIOD_CONFIG_HOME or the XDG default, in that order. A
// missing heliod.yml is not an error, heliod then runs on defaults.
func initPaths(configHome string) (paths.Paths, error) {
	p, err := paths.New(configHome)
	if err != nil {
		return nil, err
	}
	if !p.HasUserConfig() {
		log.Warn().
			Str("directory", p.ConfigHome()).
			Msg("No heliod.yml found, using the default configuration")
	}
	return p, nil
}

func rootFlags(cmd *cobra.Command) (configHome string, selection []string, dryRun bool) {
	configHome, _ = cmd.Root().PersistentFlags().GetString("config")
	selection, _ = cmd.Root().PersistentFlags().GetStringArray("module")
	dryRun, _ = cmd.Root().PersistentFlags().GetBool("dry-run")
	return configHome, selection, dryRun
}

func newRunCmd() *cobra.Command {
	var testRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: MsgRunShort,
		Long:  MsgRootLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configHome, selection, dryRun := rootFlags(cmd)
			return runDaemon(configHome, selection, dryRun, testRun)
		},
	}
	cmd.Flags().BoolVar(&testRun, "test", false, MsgFlagTest)
	return cmd
}

func newModulesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "modules",
		Short: MsgModulesShort,
		Long:  MsgModulesLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configHome, selection, _ := rootFlags(cmd)
			outputFormat, err := ui.ParseFormat(format)
			if err != nil {
				return err
			}

			p, err := initPaths(configHome)
			if err != nil {
				return err
			}
			runner := shell.New()
			cfg, err := config.Load(p, runner)
			if err != nil {
				return err
			}

			// Dry run so that the listing can never execute actions,
			// even through requirement side effects.
			manager, err := modules.NewManager(cfg, p, runner, modules.Options{DryRun: true, Selection: selection})
			if err != nil {
				return err
			}

			rows := make([]ui.ModuleRow, 0, manager.Len())
			for _, module := range manager.Modules() {
				rows = append(rows, ui.ModuleRow{
					Name:       module.Name(),
					Listener:   module.ListenerType(),
					Event:      module.Event(),
					NextChange: nextChange(module),
				})
			}
			return ui.RenderModules(cmd.OutOrStdout(), outputFormat, rows)
		},
	}
	cmd.Flags().StringVar(&format, "format", "auto", MsgFlagFormat)
	return cmd
}

// nextChange renders the time to a module's next event change for
// humans. Static listeners never change.
func nextChange(module *modules.Module) string {
	if module.ListenerType() == events.TypeStatic {
		return "never"
	}
	return module.TimeUntilNextEvent().Round(time.Second).String()
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <module>",
		Short: MsgCleanupShort,
		Long:  MsgCleanupLong,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configHome, _, dryRun := rootFlags(cmd)
			module := args[0]

			p, err := initPaths(configHome)
			if err != nil {
				return err
			}
			created, err := persistence.NewCreatedFiles(p)
			if err != nil {
				return err
			}
			owned := len(created.By(module))
			if err := created.Cleanup(module, dryRun); err != nil {
				return err
			}

			message := fmt.Sprintf(MsgCleanupFormat, owned, module)
			if dryRun {
				message = fmt.Sprintf(MsgCleanupDryRunFormat, owned, module)
			}
			ui.Success(cmd.OutOrStdout(), ui.FormatAuto, message)
			return nil
		},
	}
}

func newResetSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-setup <module>",
		Short: MsgResetSetupShort,
		Long:  MsgResetSetupLong,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configHome, _, _ := rootFlags(cmd)
			module := args[0]

			p, err := initPaths(configHome)
			if err != nil {
				return err
			}
			executed, err := persistence.NewExecutedActions(p, module)
			if err != nil {
				return err
			}
			if err := executed.Reset(); err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), ui.FormatAuto, fmt.Sprintf(MsgResetSetupFormat, module))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: MsgVersionShort,
		Long:  MsgVersionLong,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, MsgVersionFormat, version.Version)
			fmt.Fprintf(out, MsgCommitFormat, version.Commit)
			fmt.Fprintf(out, MsgBuiltFormat, version.Date)
		},
	}
}
