package variable

import (
	"log"
	"os"
	"os/user"
	"path"
	"time"
)

// Protocol constants shared by both ends of a tunnel.
const (
	// MaxMessageSize - the largest outer length a peer may declare (eth frame + headers)
	MaxMessageSize = 1600
	// MaxQueueSize - output queue cap in bytes, per connection
	MaxQueueSize = 131072
	// HandshakeSize - the first message carries exactly one encrypted session key
	HandshakeSize = 16
	// MacTableSize - default number of learned addresses per connection
	MacTableSize = 8
)

// Keepalive defaults per role.
const (
	// ServerKeepalivePeriod - how long a server stays silent before sending a keepalive
	ServerKeepalivePeriod = 60 * time.Second
	// ServerKeepaliveTimeout - how long a server tolerates silence from a client
	ServerKeepaliveTimeout = 90 * time.Second
	// ClientKeepaliveDefault - client keepalive when none is configured
	ClientKeepaliveDefault = 60 * time.Second
	// ClientKeepaliveMin - lowest client keepalive accepted from configuration
	ClientKeepaliveMin = 5 * time.Second
	// ClientKeepaliveMax - highest client keepalive accepted from configuration
	ClientKeepaliveMax = 60 * time.Second
	// ReconnectDelay - client pause between session attempts
	ReconnectDelay = time.Second
	// PollInterval - event loop tick
	PollInterval = time.Second
)

var (
	// ConfigBaseDir - the project config dir
	ConfigBaseDir string
	// ConfigFileName - default config file under ConfigBaseDir
	ConfigFileName string = "config.yaml"
	// StdoutReadyTrigger - a stdio server echoes this string once it is ready to tunnel
	StdoutReadyTrigger string = "::tinytun-server-ready::"
	// DefaultDeviceName - TAP name pattern used when none is configured
	DefaultDeviceName string = "tap%d"
	// EnableTraceLog - log every message in and out of a connection
	EnableTraceLog bool = false
	// MinKeyLength - shortest passphrase accepted
	MinKeyLength int = 4
)

func init() {
	home := os.Getenv("HOME")
	if u, err := user.Current(); err == nil {
		home = u.HomeDir
	} else if home == "" {
		log.Printf("Warning: cannot find home dir (%s), using %s\n", err.Error(), os.TempDir())
		home = os.TempDir()
	}
	ConfigBaseDir = path.Join(home, ".tinytun")
}
