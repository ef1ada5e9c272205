package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/modules"
	"github.com/heliod-dev/heliod/pkg/process"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// runDaemon starts every enabled module and keeps running for as long
// as one of them can still produce work. A non-empty selection narrows
// the enabled set to the named modules. Test and dry runs leave the
// instance pid file alone, so they can execute next to a live daemon.
func runDaemon(configHome string, selection []string, dryRun, testRun bool) error {
	p, err := initPaths(configHome)
	if err != nil {
		return err
	}
	logger := logging.GetLogger("daemon")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if !testRun && !dryRun {
		instance := process.NewManager(p)
		if err := instance.Claim(); err != nil {
			return err
		}
		defer instance.Release()
	}

	runner := shell.New()
	cfg, err := config.Load(p, runner)
	if err != nil {
		return err
	}
	if len(selection) > 0 {
		logger.Info().Strs("modules", selection).Msg("Limiting this run to the selected modules")
	}

	if delay := cfg.Global.App.StartupDelay; delay > 0 {
		logger.Info().Dur("delay", delay).Msg("Waiting before startup")
		select {
		case sig := <-signals:
			logger.Info().Str("signal", sig.String()).Msg("Interrupted during the startup delay, exiting")
			return nil
		case <-time.After(delay):
		}
	}

	manager, err := modules.NewManager(cfg, p, runner, modules.Options{DryRun: dryRun, Selection: selection})
	if err != nil {
		return err
	}
	// The closure keeps following reassignments, a hot reload swaps the
	// manager mid loop.
	defer func() {
		manager.Exit()
	}()

	finish := logging.LogOperationStart(logger, "startup")
	manager.FinishTasks()
	finish()

	fileEvents := manager.FileEvents()
	for {
		if manager.HasUnfinishedTasks() {
			manager.FinishTasks()
			continue
		}
		if testRun {
			logger.Debug().Msg("Single iteration finished")
			return nil
		}
		if !manager.KeepRunning() {
			logger.Info().Msg("No module can produce further work, exiting")
			return nil
		}

		until := manager.TimeUntilNextEvent()
		logger.Info().Dur("wait", until).Msg("Waiting until the next event change")

		select {
		case sig := <-signals:
			logger.Info().Str("signal", sig.String()).Msg("Signal received, exiting")
			return nil
		case path, ok := <-fileEvents:
			if !ok {
				// The watcher died. Scheduled events still work, a nil
				// channel blocks forever in the select.
				fileEvents = nil
				continue
			}
			manager = manager.OnModified(path)
			fileEvents = manager.FileEvents()
		case <-time.After(until):
		}
	}
}
