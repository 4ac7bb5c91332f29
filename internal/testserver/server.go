// Package testserver runs a small in-process server speaking the client
// side of the NATS text protocol. It routes PUB to matching SUBs (with
// wildcards, queue groups, UNSUB max and echo control), authenticates by
// token, user/password or NKEY, and exposes controls for failure injection.
package testserver

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/natsline/natsline-go/pkg/auth"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Options configures a Server.
type Options struct {
	// Token, User/Password and NKeys enable authentication. Any configured
	// method succeeding admits the client.
	Token    string
	User     string
	Password string
	NKeys    []string

	// MaxPayload is announced in INFO. Zero uses the protocol default.
	MaxPayload int64

	// ConnectURLs is announced in INFO.
	ConnectURLs []string

	// ServerID overrides the generated server id.
	ServerID string
}

// Server is a fake server listening on a loopback port.
type Server struct {
	opts Options
	addr string

	mu       sync.Mutex
	ln       net.Listener
	clients  map[uint64]*client
	nextID   uint64
	pongs    bool
	queueSeq map[string]int
	ops      []string
	connects []wire.Connect
	running  bool

	wg sync.WaitGroup
}

type client struct {
	id    uint64
	conn  net.Conn
	nonce string

	// Guarded by Server.mu.
	echo bool
	subs map[uint64]*sub

	wmu sync.Mutex
}

type sub struct {
	c         *client
	subject   string
	queue     string
	sid       uint64
	max       int
	delivered int
}

// Start runs a server on a random loopback port and stops it when the test
// ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	s, err := Run("127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

// Run starts a server listening on addr.
func Run(addr string, opts Options) (*Server, error) {
	if opts.ServerID == "" {
		opts.ServerID = "TEST" + randomString(8)
	}
	s := &Server{
		opts:     opts,
		clients:  make(map[uint64]*client),
		pongs:    true,
		queueSeq: make(map[string]int),
	}
	if err := s.listen(addr); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.addr = ln.Addr().String()
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns "host:port".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the nats:// URL of the server.
func (s *Server) URL() string {
	return "nats://" + s.Addr()
}

// Shutdown closes the listener and every client connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	_ = s.ln.Close()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Restart listens again on the same address after Shutdown.
func (s *Server) Restart() error {
	return s.listen(s.Addr())
}

// DropClients closes all client connections but keeps listening.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
}

// SetPongs controls whether post-handshake PINGs are answered. The PING
// that completes a handshake is always answered.
func (s *Server) SetPongs(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongs = on
}

// SendErr writes -ERR 'msg' to every client.
func (s *Server) SendErr(msg string) {
	for _, c := range s.snapshotClients() {
		c.write([]byte("-ERR '" + msg + "'\r\n"))
	}
}

// AnnounceServers sends an asynchronous INFO carrying urls as connect_urls.
func (s *Server) AnnounceServers(urls []string) {
	s.mu.Lock()
	s.opts.ConnectURLs = slices.Clone(urls)
	s.mu.Unlock()

	for _, c := range s.snapshotClients() {
		info := s.info(c)
		if line, err := wire.AppendInfo(nil, &info); err == nil {
			c.write(line)
		}
	}
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// NumSubscriptions returns the number of live subscriptions.
func (s *Server) NumSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.clients {
		n += len(c.subs)
	}
	return n
}

// Ops returns every protocol line received (payloads excluded), in order.
func (s *Server) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

// Connects returns the CONNECT payloads received, in order.
func (s *Server) Connects() []wire.Connect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.connects)
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.nextID++
		c := &client{
			id:    s.nextID,
			conn:  conn,
			nonce: randomString(11),
			echo:  true,
			subs:  make(map[uint64]*sub),
		}
		s.clients[c.id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) authRequired() bool {
	return s.opts.Token != "" || s.opts.User != "" || len(s.opts.NKeys) > 0
}

func (s *Server) info(c *client) wire.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	host, port, _ := net.SplitHostPort(s.addr)
	p, _ := strconv.Atoi(port)
	info := wire.Info{
		ServerID:     s.opts.ServerID,
		ServerName:   s.opts.ServerID,
		Version:      "2.10.0-test",
		Host:         host,
		Port:         p,
		MaxPayload:   s.opts.MaxPayload,
		Proto:        1,
		ClientID:     c.id,
		AuthRequired: s.authRequired(),
		ConnectURLs:  slices.Clone(s.opts.ConnectURLs),
	}
	if info.MaxPayload == 0 {
		info.MaxPayload = wire.DefaultMaxPayload
	}
	if len(s.opts.NKeys) > 0 {
		info.Nonce = c.nonce
	}
	return info
}

func (s *Server) serve(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	info := s.info(c)
	line, err := wire.AppendInfo(nil, &info)
	if err != nil || !c.write(line) {
		return
	}

	r := bufio.NewReaderSize(c.conn, 64*1024)
	handshaken := false
	verbose := false

	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		text := strings.TrimRight(raw, "\r\n")
		op, args, _ := strings.Cut(text, " ")
		op = strings.ToUpper(op)
		s.record(text)

		switch op {
		case "CONNECT":
			var cn wire.Connect
			if err := json.Unmarshal([]byte(args), &cn); err != nil {
				c.write([]byte("-ERR 'Invalid Connect'\r\n"))
				return
			}
			s.mu.Lock()
			s.connects = append(s.connects, cn)
			c.echo = cn.Echo
			s.mu.Unlock()
			if !s.authenticate(c, &cn) {
				c.write([]byte("-ERR 'Authorization Violation'\r\n"))
				return
			}
			verbose = cn.Verbose

		case "PING":
			s.mu.Lock()
			answer := s.pongs || !handshaken
			s.mu.Unlock()
			handshaken = true
			if answer && !c.write([]byte(wire.PongLine)) {
				return
			}
			continue

		case "PONG":
			continue

		case "SUB":
			if err := s.subscribe(c, args); err != nil {
				c.write([]byte("-ERR '" + err.Error() + "'\r\n"))
				continue
			}

		case "UNSUB":
			s.unsubscribe(c, args)

		case "PUB":
			subject, reply, size, err := parsePub(args)
			if err != nil {
				c.write([]byte("-ERR 'Unknown Protocol Operation'\r\n"))
				return
			}
			payload := make([]byte, size+2)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			s.route(c, subject, reply, payload[:size])

		default:
			c.write([]byte("-ERR 'Unknown Protocol Operation'\r\n"))
			return
		}

		if verbose {
			c.write([]byte("+OK\r\n"))
		}
	}
}

func (s *Server) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, line)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) authenticate(c *client, cn *wire.Connect) bool {
	if !s.authRequired() {
		return true
	}
	if s.opts.Token != "" && cn.AuthToken == s.opts.Token {
		return true
	}
	if s.opts.User != "" && cn.User == s.opts.User && cn.Pass == s.opts.Password {
		return true
	}
	if cn.NKey != "" && slices.Contains(s.opts.NKeys, cn.NKey) {
		return auth.Verify(cn.NKey, []byte(c.nonce), cn.Sig) == nil
	}
	return false
}

func (s *Server) subscribe(c *client, args string) error {
	f := strings.Fields(args)
	var subject, queue, sidText string
	switch len(f) {
	case 2:
		subject, sidText = f[0], f[1]
	case 3:
		subject, queue, sidText = f[0], f[1], f[2]
	default:
		return errors.New("Invalid Subscription")
	}
	sid, err := strconv.ParseUint(sidText, 10, 64)
	if err != nil || !wire.ValidSubject(subject) {
		return errors.New("Invalid Subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := c.subs[sid]; ok {
		return nil
	}
	c.subs[sid] = &sub{c: c, subject: subject, queue: queue, sid: sid}
	return nil
}

func (s *Server) unsubscribe(c *client, args string) {
	f := strings.Fields(args)
	if len(f) == 0 {
		return
	}
	sid, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := c.subs[sid]
	if !ok {
		return
	}
	if len(f) > 1 {
		if n, err := strconv.Atoi(f[1]); err == nil && n > 0 {
			sb.max = n
			if sb.delivered < n {
				return
			}
		}
	}
	delete(c.subs, sid)
}

func parsePub(args string) (subject, reply string, size int, err error) {
	f := strings.Fields(args)
	switch len(f) {
	case 2:
		subject = f[0]
	case 3:
		subject, reply = f[0], f[1]
	default:
		return "", "", 0, errors.New("bad PUB")
	}
	size, err = strconv.Atoi(f[len(f)-1])
	if err != nil || size < 0 {
		return "", "", 0, errors.New("bad PUB size")
	}
	return subject, reply, size, nil
}

type delivery struct {
	c   *client
	sid uint64
}

// route delivers a publish to every plain subscriber and to one member of
// each matching queue group, round robin.
func (s *Server) route(from *client, subject, reply string, data []byte) {
	var out []delivery

	s.mu.Lock()
	groups := make(map[string][]*sub)
	var groupOrder []string
	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		c := s.clients[id]
		if c == from && !from.echo {
			continue
		}
		sids := make([]uint64, 0, len(c.subs))
		for sid := range c.subs {
			sids = append(sids, sid)
		}
		slices.Sort(sids)
		for _, sid := range sids {
			sb := c.subs[sid]
			if !wire.MatchSubject(sb.subject, subject) {
				continue
			}
			if sb.queue == "" {
				out = append(out, s.deliverLocked(sb))
				continue
			}
			key := sb.queue + " " + sb.subject
			if _, ok := groups[key]; !ok {
				groupOrder = append(groupOrder, key)
			}
			groups[key] = append(groups[key], sb)
		}
	}
	for _, key := range groupOrder {
		members := groups[key]
		n := s.queueSeq[key]
		s.queueSeq[key] = n + 1
		out = append(out, s.deliverLocked(members[n%len(members)]))
	}
	s.mu.Unlock()

	for _, d := range out {
		d.c.write(wire.AppendMsg(nil, subject, strconv.FormatUint(d.sid, 10), reply, data))
	}
}

func (s *Server) deliverLocked(sb *sub) delivery {
	sb.delivered++
	if sb.max > 0 && sb.delivered >= sb.max {
		delete(sb.c.subs, sb.sid)
	}
	return delivery{c: sb.c, sid: sb.sid}
}

func (c *client) write(b []byte) bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(b)
	return err == nil
}

func randomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:n]
}
