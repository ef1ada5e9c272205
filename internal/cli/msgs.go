package cli

import (
	_ "embed"
	"strings"
)

// Short messages (one-liners)
const (
	// Command descriptions
	MsgRootShort       = "A modular desktop configuration manager"
	MsgRunShort        = "Start the module daemon (the default command)"
	MsgModulesShort    = "List the enabled modules and their next event change"
	MsgModulesLong     = "Modules loads the configuration exactly like the daemon would and prints one row per enabled module, without executing any action."
	MsgCleanupShort    = "Remove the files a module has created and restore backups"
	MsgCleanupLong     = "Cleanup deletes every file and directory recorded as created by the named module and moves any backed up originals back into place."
	MsgResetSetupShort = "Forget a module's executed setup actions"
	MsgResetSetupLong  = "Reset-setup clears the record of the module's executed setup actions, so the next startup runs its setup block again."
	MsgVersionShort    = "Print version information"
	MsgVersionLong     = "Print detailed version information including commit hash and build date"

	// Status messages
	MsgCleanupFormat       = "Cleaned up %d file(s) created by module '%s'"
	MsgCleanupDryRunFormat = "Would clean up %d file(s) created by module '%s' (dry run)"
	MsgResetSetupFormat    = "Module '%s' will run its setup actions again on the next startup"

	// Flag descriptions
	MsgFlagVerbose = "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)"
	MsgFlagDryRun  = "Log what every action would do without changing anything"
	MsgFlagTest    = "Run a single work iteration and exit"
	MsgFlagConfig  = "Configuration directory to use instead of the default"
	MsgFlagModule  = "Enable only the named module, repeatable (name or directory::name)"
	MsgFlagFormat  = "Output format: auto, term, text or json"

	// Version output
	MsgVersionFormat = "heliod version %s\n"
	MsgCommitFormat  = "Commit: %s\n"
	MsgBuiltFormat   = "Built:  %s\n"
)

// Long messages from embedded files
var (
	//go:embed msgs/root-long.txt
	msgRootLongRaw string
	MsgRootLong    = strings.TrimSpace(msgRootLongRaw)
)
