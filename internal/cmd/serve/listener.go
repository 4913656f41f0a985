package serve

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningServers is a bound port serving plaintext and/or TLS HTTP.
type RunningServers struct {
	Addr net.Addr
	Port int

	name    string
	base    net.Listener
	servers []*http.Server
	once    sync.Once
}

// StartSinglePort serves handler on cfg.Port. TLS and plaintext (HTTP/1.1
// and h2c) connections share the port and are told apart with cmux.
func StartSinglePort(_ context.Context, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, errors.New("listener requires plaintext and/or tls enabled")
	}
	return listen("api", cfg, handler)
}

// startManagementServer serves the health and metrics routes. It falls back
// to plaintext when neither mode is configured.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	return listen("management", cfg, handler)
}

func listen(name string, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	var cert tls.Certificate
	if cfg.EnableTLS {
		var err error
		if cert, err = loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			return nil, err
		}
	}

	base, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%s listen failed: %w", name, err)
	}
	rs := &RunningServers{Addr: base.Addr(), name: name, base: base}
	if addr, ok := base.Addr().(*net.TCPAddr); ok {
		rs.Port = addr.Port
	}

	muxer := cmux.New(base)
	// TLS must be matched before the catch-all plaintext matcher.
	if cfg.EnableTLS {
		l := tls.NewListener(muxer.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		rs.serve("tls", l, handler, cfg.ReadHeaderTimeout)
	}
	if cfg.EnablePlainText {
		rs.serve("plaintext", muxer.Match(cmux.Any()), h2c.NewHandler(handler, &http2.Server{}), cfg.ReadHeaderTimeout)
	}

	go func() {
		if err := muxer.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error("Listener mux failed", "listener", name, "err", err)
		}
	}()
	return rs, nil
}

func (rs *RunningServers) serve(mode string, l net.Listener, handler http.Handler, readHeaderTimeout time.Duration) {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	rs.servers = append(rs.servers, srv)
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error("HTTP server failed", "listener", rs.name, "mode", mode, "err", err)
		}
	}()
}

// Close shuts the servers down and releases the port. It is safe to call
// more than once; only the first call does any work.
func (rs *RunningServers) Close(ctx context.Context) error {
	var errs []error
	rs.once.Do(func() {
		for _, srv := range rs.servers {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		_ = rs.base.Close()
	})
	return errors.Join(errs...)
}
