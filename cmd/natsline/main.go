// Command natsline is a command-line client for NATS servers.
//
// Usage:
//
//	natsline <command> [flags] [args]
//
// Commands:
//
//	pub       Publish a message
//	sub       Subscribe and print messages
//	req       Send a request and print the replies
//	reply     Answer requests with a fixed response
//	shell     Interactive session on one connection
//	discover  Browse the local network for servers, or advertise one
//	log       View or summarize protocol log files
//
// Examples:
//
//	# Publish three messages
//	natsline pub -s nats://127.0.0.1:4222 -count 3 orders.new '{"id":1}'
//
//	# Subscribe as a member of a queue group
//	natsline sub -queue workers 'orders.*'
//
//	# Collect up to five replies within two seconds
//	natsline req -replies 5 -timeout 2s svc.ping
//
//	# Record protocol traffic, then inspect it
//	natsline sub -protocol-log sub.nlog 'orders.>'
//	natsline log view -direction in sub.nlog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natsline/natsline-go/cmd/natsline/commands"
	"github.com/natsline/natsline-go/cmd/natsline/interactive"
	"github.com/natsline/natsline-go/pkg/discovery"
	"github.com/natsline/natsline-go/pkg/log"
)

const usage = `natsline - NATS command-line client

Usage:
  natsline <command> [flags] [args]

Commands:
  pub       Publish a message
  sub       Subscribe and print messages
  req       Send a request and print the replies
  reply     Answer requests with a fixed response
  shell     Interactive session on one connection
  discover  Browse the local network for servers, or advertise one
  log       View or summarize protocol log files (view, stats)

Use "natsline <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "pub":
		err = runPub(args)
	case "sub":
		err = runSub(args)
	case "req", "request":
		err = runReq(args)
	case "reply":
		err = runReply(args)
	case "shell":
		err = runShell(args)
	case "discover":
		err = runDiscover(args)
	case "log":
		err = runLog(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newFlagSet(name, synopsis, argsUsage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "natsline %s - %s\n\nUsage:\n  natsline %s [flags] %s\n\nFlags:\n",
			name, synopsis, name, argsUsage)
		fs.PrintDefaults()
	}
	return fs
}

func requireArgs(fs *flag.FlagSet, n int, what string) error {
	if fs.NArg() < n {
		fs.Usage()
		return fmt.Errorf("%s required", what)
	}
	return nil
}

func runPub(args []string) error {
	fs := newFlagSet("pub", "Publish a message", "<subject> [data]")
	cf := registerConnFlags(fs)
	reply := fs.String("reply", "", "Reply subject")
	count := fs.Int("count", 1, "Number of messages to publish")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, "subject"); err != nil {
		return err
	}

	nc, cleanup, err := cf.connect(context.Background())
	if err != nil {
		return err
	}
	defer cleanup()

	return commands.RunPub(nc, commands.PubOptions{
		Subject: fs.Arg(0),
		Reply:   *reply,
		Data:    []byte(fs.Arg(1)),
		Count:   *count,
	}, os.Stdout)
}

func runSub(args []string) error {
	fs := newFlagSet("sub", "Subscribe and print messages", "<subject>")
	cf := registerConnFlags(fs)
	queue := fs.String("queue", "", "Queue group name")
	maxMsgs := fs.Int("max", 0, "Exit after this many messages (0 = run until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, "subject"); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	nc, cleanup, err := cf.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return commands.RunSub(ctx, nc, commands.SubOptions{
		Subject: fs.Arg(0),
		Queue:   *queue,
		Max:     *maxMsgs,
	}, os.Stdout)
}

func runReq(args []string) error {
	fs := newFlagSet("req", "Send a request and print the replies", "<subject> [data]")
	cf := registerConnFlags(fs)
	timeout := fs.Duration("timeout", 2*time.Second, "How long to wait for replies")
	replies := fs.Int("replies", 1, "Number of replies to collect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, "subject"); err != nil {
		return err
	}

	nc, cleanup, err := cf.connect(context.Background())
	if err != nil {
		return err
	}
	defer cleanup()

	return commands.RunReq(nc, commands.ReqOptions{
		Subject: fs.Arg(0),
		Data:    []byte(fs.Arg(1)),
		Timeout: *timeout,
		Replies: *replies,
	}, os.Stdout)
}

func runReply(args []string) error {
	fs := newFlagSet("reply", "Answer requests with a fixed response", "<subject> <response>")
	cf := registerConnFlags(fs)
	queue := fs.String("queue", "", "Queue group name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 2, "subject and response"); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	nc, cleanup, err := cf.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return commands.RunReply(ctx, nc, commands.ReplyOptions{
		Subject:  fs.Arg(0),
		Queue:    *queue,
		Response: []byte(fs.Arg(1)),
	}, os.Stdout)
}

func runShell(args []string) error {
	fs := newFlagSet("shell", "Interactive session on one connection", "")
	cf := registerConnFlags(fs)
	timeout := fs.Duration("timeout", 2*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	nc, cleanup, err := cf.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sh, err := interactive.New(nc, *timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.Stdout(), "Connected to %s\n", nc.ConnectedURL())
	sh.Run(ctx)
	return nil
}

func runDiscover(args []string) error {
	fs := newFlagSet("discover", "Browse the local network for servers", "")
	cf := registerConnFlags(fs)
	iface := fs.String("iface", "", "Network interface to browse or advertise on (default: all)")
	timeout := fs.Duration("timeout", discovery.BrowseTimeout, "How long to browse")
	advertise := fs.String("advertise", "", "Announce the server given by -s under this instance name until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *advertise != "" {
		nc, cleanup, err := cf.connect(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: *iface})
		return commands.RunAdvertise(ctx, nc, adv, *advertise, os.Stdout)
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	browser := discovery.NewBrowser(discovery.BrowserConfig{Interface: *iface})
	services, err := browser.Collect(ctx)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		fmt.Println("No servers found")
		return nil
	}
	for _, svc := range services {
		fmt.Printf("%s (id=%s version=%s)\n", svc.InstanceName, svc.ServerID, svc.Version)
		for _, u := range svc.URLs() {
			fmt.Printf("  %s\n", u)
		}
	}
	return nil
}

func runLog(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("log subcommand required (view, stats)")
	}
	switch args[0] {
	case "view":
		return runLogView(args[1:])
	case "stats":
		return runLogStats(args[1:])
	default:
		return fmt.Errorf("unknown log subcommand: %s", args[0])
	}
}

func runLogView(args []string) error {
	fs := newFlagSet("log view", "View a protocol log in human-readable format", "<file.nlog>")
	layer := fs.String("layer", "", "Filter by layer (transport, protocol, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	connID := fs.String("conn-id", "", "Filter by connection ID prefix")
	subject := fs.String("subject", "", "Filter by message subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, "log file path"); err != nil {
		return err
	}

	filter := log.Filter{ConnectionID: *connID, Subject: *subject}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	return commands.RunView(fs.Arg(0), filter, os.Stdout)
}

func runLogStats(args []string) error {
	fs := newFlagSet("log stats", "Summarize a protocol log", "<file.nlog>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, "log file path"); err != nil {
		return err
	}
	return commands.RunStats(fs.Arg(0), os.Stdout)
}
