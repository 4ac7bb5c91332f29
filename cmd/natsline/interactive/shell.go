// Package interactive provides the interactive shell for natsline.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/cmd/natsline/commands"
)

// Shell is a line-oriented client session on one connection.
type Shell struct {
	nc      *natsline.Conn
	rl      *readline.Instance
	out     io.Writer
	timeout time.Duration

	mu   sync.Mutex
	subs map[uint64]*natsline.Subscription
}

// New creates a shell on nc.
func New(nc *natsline.Conn, timeout time.Duration) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nats> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(nc, rl.Stdout(), timeout)
	s.rl = rl
	return s, nil
}

func newShell(nc *natsline.Conn, out io.Writer, timeout time.Duration) *Shell {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Shell{
		nc:      nc,
		out:     out,
		timeout: timeout,
		subs:    make(map[uint64]*natsline.Subscription),
	}
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return
		}
		if !s.Exec(line) {
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "pub", "p":
		s.cmdPub(args)
	case "sub", "s":
		s.cmdSub(args)
	case "unsub", "u":
		s.cmdUnsub(args)
	case "req", "r":
		s.cmdReq(args)
	case "subs":
		s.cmdSubs()
	case "flush":
		s.report(s.nc.Flush())
	case "status":
		s.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  pub <subject> [data...]   - Publish a message
  sub <subject> [queue]     - Subscribe and print messages
  unsub <sid> [max]         - Unsubscribe now, or after max messages
  subs                      - List subscriptions
  req <subject> [data...]   - Send a request and print the reply
  flush                     - Round trip to the server
  status                    - Show connection status and counters
  help                      - Show this help
  quit                      - Exit`)
}

func (s *Shell) cmdPub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: pub <subject> [data...]")
		return
	}
	if err := s.nc.Publish(args[0], []byte(strings.Join(args[1:], " "))); err != nil {
		s.report(err)
		return
	}
	fmt.Fprintf(s.out, "Published to %s\n", args[0])
}

func (s *Shell) cmdSub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: sub <subject> [queue]")
		return
	}
	queue := ""
	if len(args) > 1 {
		queue = args[1]
	}
	sub, err := s.nc.QueueSubscribe(args[0], queue, func(m *natsline.Msg) {
		fmt.Fprintf(s.out, "[sid %d] %s: %s\n", m.Sub.Sid(), m.Subject, commands.FormatPayload(m.Data))
	})
	if err != nil {
		s.report(err)
		return
	}
	s.mu.Lock()
	s.subs[sub.Sid()] = sub
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Subscribed to %s (sid %d)\n", args[0], sub.Sid())
}

func (s *Shell) cmdUnsub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: unsub <sid> [max]")
		return
	}
	sid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid sid: %s\n", args[0])
		return
	}
	s.mu.Lock()
	sub, ok := s.subs[sid]
	s.mu.Unlock()
	if !ok {
		fmt.Fprintf(s.out, "No subscription with sid %d\n", sid)
		return
	}

	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(s.out, "Invalid max: %s\n", args[1])
			return
		}
		s.report(sub.AutoUnsubscribe(n))
		return
	}

	s.mu.Lock()
	delete(s.subs, sid)
	s.mu.Unlock()
	s.report(sub.Unsubscribe())
}

func (s *Shell) cmdSubs() {
	s.mu.Lock()
	sids := make([]uint64, 0, len(s.subs))
	for sid, sub := range s.subs {
		if !sub.IsValid() {
			delete(s.subs, sid)
			continue
		}
		sids = append(sids, sid)
	}
	s.mu.Unlock()
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })

	if len(sids) == 0 {
		fmt.Fprintln(s.out, "No subscriptions")
		return
	}
	for _, sid := range sids {
		s.mu.Lock()
		sub := s.subs[sid]
		s.mu.Unlock()
		fmt.Fprintf(s.out, "  %3d  %-30s %-10s delivered=%d pending=%d\n",
			sid, sub.Subject(), sub.Queue(), sub.Delivered(), sub.Pending())
	}
}

func (s *Shell) cmdReq(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: req <subject> [data...]")
		return
	}
	start := time.Now()
	m, err := s.nc.Request(args[0], []byte(strings.Join(args[1:], " ")), s.timeout)
	if err != nil {
		s.report(err)
		return
	}
	fmt.Fprintf(s.out, "Reply (%s): %s\n", time.Since(start).Round(time.Microsecond), commands.FormatPayload(m.Data))
}

func (s *Shell) cmdStatus() {
	st := s.nc.Stats()
	fmt.Fprintf(s.out, "Status:     %s\n", s.nc.Status())
	fmt.Fprintf(s.out, "Server:     %s %s\n", s.nc.ConnectedURL(), s.nc.ConnectedServerID())
	fmt.Fprintf(s.out, "Pool:       %s\n", strings.Join(s.nc.Servers(), ", "))
	fmt.Fprintf(s.out, "Msgs:       in=%d out=%d\n", st.InMsgs, st.OutMsgs)
	fmt.Fprintf(s.out, "Bytes:      in=%d out=%d\n", st.InBytes, st.OutBytes)
	fmt.Fprintf(s.out, "Reconnects: %d\n", st.Reconnects)
}

func (s *Shell) report(err error) {
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "OK")
}
