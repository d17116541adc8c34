package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arcnode/arcproxy/proxy"
)

var (
	flagPort      uint16
	flagDaemonize bool
	flagLogFile   string
	flagVerbosity int
)

func main() {
	cmd := &cobra.Command{
		Use:           "arcproxy",
		Short:         "HTTP proxy with host-keyed upstream pooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.Uint16VarP(&flagPort, "port", "p", 0, "listening port")
	flags.BoolVarP(&flagDaemonize, "daemonize", "d", false, "ignore SIGHUP and close stdin")
	flags.StringVarP(&flagLogFile, "logname", "l", "", "log to file")
	flags.IntVarP(&flagVerbosity, "verbosity", "v", 0, "log verbosity level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if flagPort == 0 {
		return fmt.Errorf("no port specified")
	}

	setupLogging()

	if flagDaemonize {
		// stay alive when the controlling terminal goes away
		signal.Ignore(syscall.SIGHUP)
		os.Stdin.Close()
	}

	p := proxy.NewForward(proxy.Config{})
	if err := p.Run(fmt.Sprintf(":%d", flagPort)); err != nil {
		return err
	}
	defer p.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logrus.Info("shutting down")
	return nil
}

func setupLogging() {
	switch {
	case flagVerbosity >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case flagVerbosity == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logrus.WithError(err).Error("cannot open log file, logging to stderr")
			return
		}
		logrus.SetOutput(f)
	}
}
