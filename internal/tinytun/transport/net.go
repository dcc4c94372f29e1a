package transport

import (
	"context"
	"io"
	"net"
)

// Listen - TCP listener for the hub
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

// Dial - connect to a hub
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	NoDelay(conn)
	return conn, nil
}

// NoDelay - disable Nagle on TCP connections, frames are latency sensitive
func NoDelay(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
}

// Accept - accept connections until ln is closed or ctx is done, handing each to conns
func Accept(ctx context.Context, ln net.Listener, conns chan<- io.ReadWriteCloser) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		NoDelay(conn)
		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}
