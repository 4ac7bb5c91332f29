package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/pkg/config"
	"github.com/natsline/natsline-go/pkg/discovery"
	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/request"
)

// connFlags are the connection flags shared by every client command.
type connFlags struct {
	servers     string
	configFile  string
	name        string
	token       string
	user        string
	password    string
	nkeyFile    string
	mode        string
	discover    bool
	protocolLog string
	metricsAddr string
	logLevel    string
}

func registerConnFlags(fs *flag.FlagSet) *connFlags {
	cf := &connFlags{}
	fs.StringVar(&cf.servers, "s", "", "Server URLs, comma separated (default "+natsline.DefaultURL+")")
	fs.StringVar(&cf.configFile, "config", "", "Client configuration file (.yaml or .toml)")
	fs.StringVar(&cf.name, "name", "natsline", "Client name sent to the server")
	fs.StringVar(&cf.token, "token", "", "Authentication token")
	fs.StringVar(&cf.user, "user", "", "User name")
	fs.StringVar(&cf.password, "pass", "", "Password")
	fs.StringVar(&cf.nkeyFile, "nkey", "", "NKey seed file")
	fs.StringVar(&cf.mode, "mode", "", "Request mode: shared_inbox, ephemeral")
	fs.BoolVar(&cf.discover, "discover", false, "Add servers found via mDNS to the pool")
	fs.StringVar(&cf.protocolLog, "protocol-log", "", "Write protocol events to this file")
	fs.StringVar(&cf.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&cf.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	return cf
}

// options resolves the flags into connection options. The config file is
// applied first so that flags override it.
func (cf *connFlags) options(ctx context.Context) (natsline.Options, []func(), error) {
	var cleanups []func()
	o := natsline.GetDefaultOptions()

	if cf.configFile != "" {
		file, err := config.Load(cf.configFile)
		if err != nil {
			return o, cleanups, err
		}
		opts, err := file.Options()
		if err != nil {
			return o, cleanups, err
		}
		if err := apply(&o, opts...); err != nil {
			return o, cleanups, err
		}
	}

	if cf.servers != "" {
		o.Servers = nil
		for _, s := range strings.Split(cf.servers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				o.Servers = append(o.Servers, s)
			}
		}
	}

	if cf.discover {
		browseCtx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
		urls, err := discovery.NewBrowser(discovery.BrowserConfig{}).URLs(browseCtx)
		cancel()
		if err != nil {
			return o, cleanups, fmt.Errorf("discover servers: %w", err)
		}
		o.Servers = append(o.Servers, urls...)
	}

	var opts []natsline.Option
	opts = append(opts, natsline.WithLogger(newLogger(cf.logLevel)))
	if cf.name != "" {
		opts = append(opts, natsline.Name(cf.name))
	}
	if cf.token != "" {
		opts = append(opts, natsline.Token(cf.token))
	}
	if cf.user != "" {
		opts = append(opts, natsline.UserInfo(cf.user, cf.password))
	}
	if cf.nkeyFile != "" {
		opts = append(opts, natsline.NKeySeedFile(cf.nkeyFile))
	}
	if cf.mode != "" {
		mode, err := request.ParseMode(cf.mode)
		if err != nil {
			return o, cleanups, err
		}
		opts = append(opts, natsline.RequestMode(mode))
	}

	if cf.protocolLog != "" {
		fl, err := log.NewFileLogger(cf.protocolLog)
		if err != nil {
			return o, cleanups, fmt.Errorf("open protocol log: %w", err)
		}
		cleanups = append(cleanups, func() { _ = fl.Close() })
		opts = append(opts, natsline.WithProtocolLogger(fl))
	}

	if cf.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, natsline.WithMetrics(metrics.NewPrometheus(reg, "")))
		srv := serveMetrics(cf.metricsAddr, reg)
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	return o, cleanups, apply(&o, opts...)
}

// connect connects with the resolved options. The returned cleanup closes
// the connection and everything the flags opened.
func (cf *connFlags) connect(ctx context.Context) (*natsline.Conn, func(), error) {
	o, cleanups, err := cf.options(ctx)
	runCleanups := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	if err != nil {
		runCleanups()
		return nil, nil, err
	}

	nc, err := o.ConnectContext(ctx)
	if err != nil {
		runCleanups()
		return nil, nil, err
	}
	return nc, func() {
		nc.Close()
		runCleanups()
	}, nil
}

func apply(o *natsline.Options, opts ...natsline.Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return srv
}
