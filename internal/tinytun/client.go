package tinytun

import (
	"context"
	"fmt"
	"io"
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

// Client - keeps one tunnel to a server up, reconnecting after every failure
type Client struct {
	cfg config.ClientConfig
	key crypt.Key
	log zerolog.Logger

	// OpenDevice - device.Open unless replaced
	OpenDevice func(device.Config) (device.Device, error)
	// Connect - dials the server or starts the proxy command unless replaced
	Connect func(ctx context.Context) (io.ReadWriteCloser, error)
	// ReconnectDelay - pause before every session attempt
	ReconnectDelay time.Duration
	Now            func() time.Time
}

// NewClient - Create a Client
func NewClient(cfg config.ClientConfig, key crypt.Key) *Client {
	c := &Client{
		cfg:            cfg,
		key:            key,
		log:            tools.Logger.With().Str("component", "client").Logger(),
		OpenDevice:     device.Open,
		ReconnectDelay: variable.ReconnectDelay,
	}
	c.Connect = c.connect
	return c
}

func (c *Client) connect(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.cfg.Proxy != "" {
		return transport.Command(ctx, transport.CommandSpec{
			Command:     c.cfg.Proxy,
			Interactive: c.cfg.Interactive,
		})
	}
	return transport.Dial(ctx, c.cfg.Connect)
}

// Run - open the device and run sessions until ctx is done or the device fails
func (c *Client) Run(ctx context.Context) error {
	dev, err := c.OpenDevice(device.Config(c.cfg.Device))
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	c.log.Info().Str("dev", dev.Name()).Msg("device ready")

	var (
		frames = make(chan []byte, 64)
		wake   = make(chan struct{}, 1)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return device.Pump(gctx, dev, frames, wake) })
	g.Go(func() error {
		<-gctx.Done()
		return dev.Close()
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(c.ReconnectDelay):
			}
			rwc, err := c.Connect(gctx)
			if err != nil {
				c.log.Warn().Err(err).Msg("connect")
				continue
			}
			if n := device.Drain(frames); n > 0 {
				c.log.Debug().Int("frames", n).Msg("dropped stale device frames")
			}
			err = c.session(gctx, rwc, dev, frames, wake)
			c.log.Info().Err(err).Msg("session ended")
		}
	})
	return g.Wait()
}

// session - drive one connection until it is terminal
func (c *Client) session(ctx context.Context, rwc io.ReadWriteCloser, dev device.Device, frames <-chan []byte, wake chan struct{}) error {
	t := transport.NewConn(rwc, wake)
	conn, err := protocol.NewConn(t, protocol.Options{
		Key:               c.key,
		Handler:           bridge.Deliver(dev),
		Role:              protocol.RoleClient,
		KeepaliveInterval: c.cfg.KeepaliveInterval(),
		Now:               c.Now,
		Logger:            &c.log,
	})
	if err != nil {
		t.Close()
		return err
	}
	defer conn.Close()
	c.log.Info().Str("conn", conn.ID()).Msg("session started")

	ticker := time.NewTicker(variable.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			c.send(conn, frame)
		case <-wake:
		case <-ticker.C:
		}
		for n := len(frames); n > 0; n-- {
			c.send(conn, <-frames)
		}
		if conn.WantRead() {
			conn.ServiceRead()
		}
		if conn.WantWrite() {
			conn.ServiceWrite()
		}
		if conn.NeedClose() {
			return conn.Err()
		}
	}
}

func (c *Client) send(conn *protocol.Conn, frame []byte) {
	if variable.EnableTraceLog {
		tools.TraceF("device frame: %s", device.Describe(frame))
	}
	if err := conn.Send(frame); err != nil {
		c.log.Debug().Err(err).Msg("frame dropped")
	}
}
