package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/elevation"
	"github.com/fadcrypt/fadcrypt/internal/helper"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

func main() {
	payload := flag.String(elevation.PayloadFlag[1:], "", "encoded elevated operation")
	method := flag.String("method", "", "immutable flag method (chattr or ioctl)")
	flag.Parse()

	if *payload == "" {
		fmt.Fprintln(os.Stderr, "missing -payload")
		os.Exit(2)
	}

	if err := syslog.L.SetServiceLogger(""); err != nil {
		syslog.L.Warn().WithMessage("system log unavailable").WithField("error", err.Error()).Write()
	}

	backend, err := protect.New(*method)
	if err != nil {
		syslog.L.Warn().WithMessage("no protection backend").WithField("error", err.Error()).Write()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultHelperTimeout*2)
	defer cancel()

	if err := helper.NewRunner(backend).Run(ctx, *payload); err != nil {
		syslog.L.Error(err).WithMessage("elevated operation failed").Write()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
