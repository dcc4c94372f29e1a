// Package tinytun - the server and client processes: event loops tying
// devices, transports and tunnel connections together
package tinytun

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rectcircle/tinytun/internal/tinytun/bridge"
	"github.com/rectcircle/tinytun/internal/tinytun/config"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rectcircle/tinytun/internal/tinytun/device"
	"github.com/rectcircle/tinytun/internal/tinytun/protocol"
	"github.com/rectcircle/tinytun/internal/tinytun/transport"
	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server - the hub: accepts tunnels and switches frames between them and the optional local device
type Server struct {
	cfg config.ServerConfig
	key crypt.Key
	log zerolog.Logger

	// OpenDevice - device.Open unless replaced
	OpenDevice func(device.Config) (device.Device, error)
	// Ready - where a stdio server announces itself, os.Stdout unless replaced
	Ready io.Writer
	Now   func() time.Time
}

// NewServer - Create a Server
func NewServer(cfg config.ServerConfig, key crypt.Key) *Server {
	return &Server{
		cfg:        cfg,
		key:        key,
		log:        tools.Logger.With().Str("component", "server").Logger(),
		OpenDevice: device.Open,
		Ready:      os.Stdout,
	}
}

// Run - serve until ctx is done: over stdin/stdout when configured, else on a TCP listener
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Stdio {
		return s.ServeStdio(ctx, transport.Stdio())
	}
	ln, err := transport.Listen(ctx, s.cfg.Address())
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return s.Serve(ctx, ln)
}

// Serve - accept tunnels on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	conns := make(chan io.ReadWriteCloser)
	return s.serve(ctx, conns, nil, func(g *errgroup.Group, ctx context.Context) {
		g.Go(func() error { return transport.Accept(ctx, ln, conns) })
	})
}

// ServeStdio - serve the single tunnel carried by rwc, returning once it ends
func (s *Server) ServeStdio(ctx context.Context, rwc io.ReadWriteCloser) error {
	if _, err := fmt.Fprint(s.Ready, variable.StdoutReadyTrigger); err != nil {
		return err
	}
	return s.serve(ctx, nil, rwc, func(*errgroup.Group, context.Context) {})
}

// serve - the event loop. With only set, the loop serves that one stream and
// stops when its connection ends.
func (s *Server) serve(ctx context.Context, conns <-chan io.ReadWriteCloser, only io.ReadWriteCloser, start func(*errgroup.Group, context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var (
		local  bridge.LocalPort
		frames = make(chan []byte, 64)
		wake   = make(chan struct{}, 1)
	)
	if s.cfg.Device.Name != "" {
		dev, err := s.OpenDevice(device.Config(s.cfg.Device))
		if err != nil {
			if only != nil {
				only.Close()
			}
			return fmt.Errorf("open device: %w", err)
		}
		s.log.Info().Str("dev", dev.Name()).Msg("device ready")
		local = dev
		g.Go(func() error { return device.Pump(gctx, dev, frames, wake) })
		g.Go(func() error {
			<-gctx.Done()
			return dev.Close()
		})
	}
	br := bridge.New(local, &s.log)
	start(g, gctx)

	g.Go(func() error {
		defer cancel()
		defer br.CloseAll()
		if only != nil {
			s.add(br, only, wake)
		}
		ticker := time.NewTicker(variable.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case rwc := <-conns:
				s.add(br, rwc, wake)
			case frame := <-frames:
				s.route(br, frame)
			case <-wake:
			case <-ticker.C:
			}
			for n := len(frames); n > 0; n-- {
				s.route(br, <-frames)
			}
			br.Poll()
			if only != nil && br.Len() == 0 {
				s.log.Info().Msg("tunnel closed")
				return nil
			}
		}
	})
	return g.Wait()
}

func (s *Server) route(br *bridge.Bridge, frame []byte) {
	if variable.EnableTraceLog {
		tools.TraceF("device frame: %s", device.Describe(frame))
	}
	br.Route(nil, frame)
}

func (s *Server) add(br *bridge.Bridge, rwc io.ReadWriteCloser, wake chan struct{}) {
	if nc, ok := rwc.(net.Conn); ok {
		s.log.Info().Str("remote", nc.RemoteAddr().String()).Msg("accepted")
	}
	t := transport.NewConn(rwc, wake)
	conn, err := protocol.NewConn(t, protocol.Options{
		Key:     s.key,
		Handler: br,
		Role:    protocol.RoleServer,
		Now:     s.Now,
		Logger:  &s.log,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("new connection")
		t.Close()
		return
	}
	br.Add(conn)
}
