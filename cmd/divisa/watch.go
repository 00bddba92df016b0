package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"divisa/internal/coordinator"
)

type watchOptions struct {
	standalone bool
	install    bool
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	wopts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the rates on screen and follow the shell worker",
		Long: "watch connects to a running shell server, keeps the rates table current, " +
			"registers background syncs when connectivity returns and applies worker updates.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, wopts)
		},
	}

	cmd.Flags().BoolVar(&wopts.standalone, "standalone", false, "run as an installed app")
	cmd.Flags().BoolVar(&wopts.install, "install", false, "answer the install prompt on startup")
	return cmd
}

// installPrompt reports an accepted prompt as an install.
type installPrompt struct {
	prompt coordinator.InstallPrompt
	bus    *coordinator.Bus
}

func (p installPrompt) Prompt(ctx context.Context) (coordinator.Outcome, error) {
	outcome, err := p.prompt.Prompt(ctx)
	if err == nil && outcome == coordinator.OutcomeAccepted {
		p.bus.Publish(coordinator.Event{Type: coordinator.EventAppInstalled})
	}
	return outcome, err
}

func runWatch(cmd *cobra.Command, opts *rootOptions, wopts *watchOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	log := opts.log
	api := opts.api()

	bus := coordinator.NewBus(log)
	ui := coordinator.NewTerminalUI(out, api, log)
	ui.OnReload(func() { fmt.Fprint(out, "\033[H\033[2J") })
	remote := coordinator.NewRemote(opts.shellURL, nil, log)

	coord := coordinator.New(bus, ui, remote, log, coordinator.Options{
		ReloadDelay: opts.cfg.Shell.ReloadDelay,
		Standalone:  wopts.standalone,
	})
	monitor := coordinator.NewMonitor(bus, api, remote, log, coordinator.MonitorOptions{
		ConnectivityInterval: opts.cfg.Shell.ConnectivityPoll,
		VersionInterval:      opts.cfg.Shell.VersionPoll,
	})

	if wopts.install {
		// Handlers run in subscription order, so the coordinator has
		// stored the prompt by the time this one fires.
		bus.Subscribe(coordinator.EventBeforeInstallPrompt, func(coordinator.Event) {
			go coord.InstallApp()
		})
	}
	if !wopts.standalone {
		bus.Publish(coordinator.Event{
			Type: coordinator.EventBeforeInstallPrompt,
			Data: installPrompt{prompt: coordinator.NewLinePrompt(cmd.InOrStdin(), out), bus: bus},
		})
	}

	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		remote.Listen(ctx, bus)
	}()

	coord.Init()
	ui.ReloadRates()
	monitor.Start(ctx)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCONT)
	defer signal.Stop(signals)

loop:
	for {
		select {
		case sig := <-signals:
			if sig != syscall.SIGCONT {
				break loop
			}
			monitor.Resume()
		case <-ctx.Done():
			break loop
		}
	}

	log.Info("Stopping watch")
	monitor.Stop()
	coord.Stop()
	cancel()
	<-listenDone
	bus.Stop()
	return nil
}
