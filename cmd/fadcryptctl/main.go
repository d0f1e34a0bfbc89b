package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fadcrypt/fadcrypt/internal/client"
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/decision"
	"github.com/fadcrypt/fadcrypt/internal/elevation"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

const usage = `usage: fadcryptctl [-socket path] <command> [args]

daemon commands:
  ping
  lock <file>...           set the immutable flag
  unlock <file>...         clear the immutable flag
  chmod <mode> <file>...   set permission bits (octal or symbolic)
  watch <path>...          add paths to the access monitor
  unwatch <path>...        remove paths from the access monitor
  monitor start|stop       start or stop the access monitor

other commands:
  version [constraint]     print versions, optionally requiring e.g. ">= 1.2"
  authorize                answer access decisions interactively
  elevate <operation> [arg]...
                           run protect-files, unprotect-files, disable-tools,
                           enable-tools or install-daemon with elevation
`

func main() {
	socket := flag.String("socket", constants.ControlSocketPath, "control socket path")
	decisionSocket := flag.String("decision-socket", constants.DecisionSocketPath, "decision socket path")
	helperPath := flag.String("helper", constants.HelperBinaryPath, "elevated helper binary")
	verbose := flag.Bool("v", false, "log debug output to stderr")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *verbose {
		syslog.L.SetLevel("debug")
	} else {
		syslog.L.SetLevel("error")
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(*socket)
	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "version":
		err = version(ctx, c, args)
	case "authorize":
		err = authorize(ctx, *decisionSocket)
	case "elevate":
		err = elevate(ctx, elevation.NewBroker(*helperPath, c), args)
	default:
		err = daemonCommand(ctx, c, cmd, args)
	}

	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func daemonCommand(ctx context.Context, c *client.Client, cmd string, args []string) error {
	var (
		resp protocol.Response
		err  error
	)

	switch cmd {
	case "ping":
		resp, err = c.Ping(ctx)
	case "lock":
		resp, err = c.Lock(ctx, args...)
	case "unlock":
		resp, err = c.Unlock(ctx, args...)
	case "chmod":
		if len(args) == 0 {
			return errors.New("chmod needs a mode")
		}
		resp, err = c.SetPermissionBits(ctx, args[1:], protocol.StringMode(args[0]))
	case "watch":
		resp, err = c.Watch(ctx, args...)
	case "unwatch":
		resp, err = c.Unwatch(ctx, args...)
	case "monitor":
		switch strings.Join(args, " ") {
		case "start":
			resp, err = c.StartMonitor(ctx)
		case "stop":
			resp, err = c.StopMonitor(ctx)
		default:
			return errors.New("usage: monitor start|stop")
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success {
		os.Exit(1)
	}
	return nil
}

var Version = "v0.0.0"

func version(ctx context.Context, c *client.Client, args []string) error {
	constraint := ">= 0.0.0"
	if len(args) > 0 {
		constraint = strings.Join(args, " ")
	}

	fmt.Println("fadcryptctl", Version)
	v, err := c.CheckVersion(ctx, constraint)
	if v != "" {
		fmt.Println("daemon", v)
	}
	return err
}

func elevate(ctx context.Context, b *elevation.Broker, args []string) error {
	if len(args) == 0 {
		return errors.New("elevate needs an operation")
	}

	op, rest := args[0], args[1:]
	switch op {
	case elevation.OpProtectFiles:
		return b.ProtectFiles(ctx, rest...)
	case elevation.OpUnprotectFiles:
		return b.UnprotectFiles(ctx, rest...)
	case elevation.OpDisableTools:
		return b.DisableSystemTools(ctx)
	case elevation.OpEnableTools:
		return b.EnableSystemTools(ctx)
	case elevation.OpInstallDaemon:
		return b.InstallDaemon(ctx)
	}
	return fmt.Errorf("unknown operation %q", op)
}

// authorize prompts on the terminal for every access to a watched path.
func authorize(ctx context.Context, socketPath string) error {
	var mu sync.Mutex
	in := bufio.NewReader(os.Stdin)

	prompt := decision.AuthorizerFunc(func(ctx context.Context, path string, pid int32) bool {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(os.Stderr, "allow pid %d to open %s? [y/N] ", pid, path)
		line, err := in.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	})

	fmt.Fprintf(os.Stderr, "answering access decisions on %s\n", socketPath)
	c := &decision.Client{SocketPath: socketPath}
	return c.Run(ctx, prompt)
}
