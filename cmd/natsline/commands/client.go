package commands

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/natsline/natsline-go"
)

// PubOptions configures RunPub.
type PubOptions struct {
	Subject string
	Reply   string
	Data    []byte
	Count   int
}

// RunPub publishes Count copies of the payload and flushes.
func RunPub(nc *natsline.Conn, opts PubOptions, w io.Writer) error {
	count := max(opts.Count, 1)
	for i := 0; i < count; i++ {
		if err := nc.PublishRequest(opts.Subject, opts.Reply, opts.Data); err != nil {
			return fmt.Errorf("publish %d: %w", i+1, err)
		}
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Fprintf(w, "Published %d message(s) to %q\n", count, opts.Subject)
	return nil
}

// SubOptions configures RunSub.
type SubOptions struct {
	Subject string
	Queue   string

	// Max stops after this many messages. Zero runs until ctx is done.
	Max int
}

// RunSub prints messages until ctx is done or Max messages arrived.
func RunSub(ctx context.Context, nc *natsline.Conn, opts SubOptions, w io.Writer) error {
	var (
		mu   sync.Mutex
		n    int
		done = make(chan struct{})
	)

	var subOpts []natsline.SubOption
	if opts.Max > 0 {
		subOpts = append(subOpts, natsline.WithMaxDeliveries(opts.Max))
	}
	sub, err := nc.QueueSubscribe(opts.Subject, opts.Queue, func(m *natsline.Msg) {
		mu.Lock()
		defer mu.Unlock()
		n++
		printMsg(w, n, m)
		if opts.Max > 0 && n == opts.Max {
			close(done)
		}
	}, subOpts...)
	if err != nil {
		return err
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Listening on %q\n", opts.Subject)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if sub.IsValid() {
			return sub.Unsubscribe()
		}
		return nil
	}
}

// ReqOptions configures RunReq.
type ReqOptions struct {
	Subject string
	Data    []byte
	Timeout time.Duration

	// Replies collects up to this many replies. Zero or one waits for the
	// first reply only.
	Replies int
}

// RunReq sends a request and prints the replies.
func RunReq(nc *natsline.Conn, opts ReqOptions, w io.Writer) error {
	if opts.Replies <= 1 {
		start := time.Now()
		m, err := nc.Request(opts.Subject, opts.Data, opts.Timeout)
		if err != nil {
			return err
		}
		printMsg(w, 1, m)
		fmt.Fprintf(w, "Round trip: %s\n", time.Since(start).Round(time.Microsecond))
		return nil
	}

	var mu sync.Mutex
	n := 0
	stream, err := nc.RequestStream(opts.Subject, opts.Data, opts.Timeout, opts.Replies, func(m *natsline.Msg) {
		mu.Lock()
		defer mu.Unlock()
		n++
		printMsg(w, n, m)
	})
	if err != nil {
		return err
	}
	res := stream.Wait()
	fmt.Fprintf(w, "Received %d repl(ies)\n", stream.Received())
	return res.Err
}

// ReplyOptions configures RunReply.
type ReplyOptions struct {
	Subject  string
	Queue    string
	Response []byte
}

// RunReply answers every request on Subject until ctx is done.
func RunReply(ctx context.Context, nc *natsline.Conn, opts ReplyOptions, w io.Writer) error {
	var mu sync.Mutex
	n := 0
	sub, err := nc.QueueSubscribe(opts.Subject, opts.Queue, func(m *natsline.Msg) {
		mu.Lock()
		n++
		printMsg(w, n, m)
		mu.Unlock()
		if err := m.Respond(opts.Response); err != nil {
			fmt.Fprintf(w, "  respond: %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Replying on %q\n", opts.Subject)

	<-ctx.Done()
	if sub.IsValid() {
		return sub.Unsubscribe()
	}
	return nil
}

func printMsg(w io.Writer, n int, m *natsline.Msg) {
	fmt.Fprintf(w, "[#%d] %s", n, m.Subject)
	if m.Reply != "" {
		fmt.Fprintf(w, " (reply: %s)", m.Reply)
	}
	fmt.Fprintf(w, " %d bytes\n", len(m.Data))
	if len(m.Data) > 0 {
		fmt.Fprintf(w, "  %s\n", FormatPayload(m.Data))
	}
}
