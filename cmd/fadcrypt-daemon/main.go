package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/daemon"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"github.com/kardianos/service"

	_ "github.com/fadcrypt/fadcrypt/internal/memlimit"
)

var Version = "v0.0.0"

type daemonService struct {
	configPath string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    error
}

// exitCode is 2 for startup failures a restart cannot fix, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, protocol.ErrFatalStartup), errors.Is(err, config.ErrInvalid):
		return 2
	default:
		return 1
	}
}

func (p *daemonService) Start(s service.Service) error {
	p.wg.Go(p.run)
	return nil
}

func (p *daemonService) run() {
	defer p.cancel()
	defer func() {
		// Let the service manager apply its restart policy.
		if p.err != nil && !service.Interactive() {
			os.Exit(exitCode(p.err))
		}
	}()

	cfg, err := config.Load(p.configPath)
	if err != nil {
		syslog.L.Error(err).WithMessage("failed to load configuration").Write()
		p.err = err
		return
	}

	syslog.L.SetLevel(cfg.LogLevel)
	if err := syslog.L.SetServiceLogger(cfg.LogFile); err != nil {
		syslog.L.Warn().WithMessage("syslog unavailable").
			WithField("error", err.Error()).Write()
	}

	syslog.L.Info().WithMessage("starting daemon").WithField("version", Version).Write()

	if err := daemon.Run(p.ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		syslog.L.Error(err).WithMessage("daemon exited").Write()
		p.err = err
	}
}

func (p *daemonService) Stop(s service.Service) error {
	p.cancel()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(constants.DefaultMonitorStopTimeout + constants.DefaultDecisionTimeout + 5*time.Second):
		syslog.L.Warn().WithMessage("daemon stop timeout reached").Write()
	}
	return nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	constants.Version = Version

	configPath := flag.String("config", constants.ConfigFilePath, "path to the daemon configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] [version|install|uninstall|start|stop|restart]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	var args []string
	if *configPath != constants.ConfigFilePath {
		args = []string{"-config", *configPath}
	}

	prg := &daemonService{configPath: *configPath}
	prg.ctx, prg.cancel = context.WithCancel(context.Background())

	s, err := service.New(prg, daemon.ServiceConfig(args...))
	if err != nil {
		log.Fatal(err)
	}

	if action := flag.Arg(0); action != "" {
		if action == "version" {
			fmt.Print(Version)
			return
		}
		if err := service.Control(s, action); err != nil {
			log.Fatal(err)
		}
		return
	}

	if service.Interactive() {
		ctx, stop := signalContext(prg.ctx)
		defer stop()
		prg.ctx = ctx
		prg.run()
	} else if err := s.Run(); err != nil {
		log.Fatal(err)
	}

	if code := exitCode(prg.err); code != 0 {
		os.Exit(code)
	}
}
