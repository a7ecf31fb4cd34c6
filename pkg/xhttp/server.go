package xhttp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
)

type ServerOption func(o *serverOptions)

type serverOptions struct {
	certFile string
	keyFile  string
}

// WithTLS serves HTTPS using the given PEM files.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(o *serverOptions) {
		o.certFile = certFile
		o.keyFile = keyFile
	}
}

type Server struct {
	addr *net.TCPAddr
	tls  bool
}

func (s Server) Port() int {
	return s.addr.Port
}

func (s Server) Addr() string {
	return s.addr.String()
}

func (s Server) TLS() bool {
	return s.tls
}

func StartServer(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, opts ...ServerOption) (*Server, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if (o.certFile == "") != (o.keyFile == "") {
		return nil, errors.New("both certificate and key files are required for TLS")
	}
	var tlsConfig *tls.Config
	if o.certFile != "" {
		cert, err := tls.LoadX509KeyPair(o.certFile, o.keyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"http/1.1"}, // upgrades hijack the connection
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background()) // hijacked connections are not tracked by Shutdown
	})
	g.Go(func() error { // modified part of server.ListenAndServer
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	return &Server{
		addr: tcpAddr,
		tls:  tlsConfig != nil,
	}, nil
}
