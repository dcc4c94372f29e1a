// Package config - the YAML configuration file and its validation
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
	"gopkg.in/yaml.v3"
)

// Config - everything a tinytun process can be configured with
type Config struct {
	// Key - shared passphrase
	Key    string       `yaml:"key"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// LogConfig - logger switches
type LogConfig struct {
	Verbose bool `yaml:"verbose"`
	Trace   bool `yaml:"trace"`
	JSON    bool `yaml:"json"`
}

// DeviceConfig - local TAP interface, an empty Name on the server means no device
type DeviceConfig struct {
	Name      string   `yaml:"name"`
	MTU       int      `yaml:"mtu"`
	Addresses []string `yaml:"addresses"`
}

// ServerConfig - hub settings
type ServerConfig struct {
	Host   string       `yaml:"host"`
	Port   uint16       `yaml:"port"`
	Stdio  bool         `yaml:"stdio"`
	Device DeviceConfig `yaml:"device"`
}

// ClientConfig - client settings
type ClientConfig struct {
	// Connect - host:port of the hub
	Connect string `yaml:"connect"`
	// Proxy - command whose stdio reaches a `tinytun server -stdio`, used instead of Connect
	Proxy       string       `yaml:"proxy"`
	Interactive bool         `yaml:"interactive"`
	Keepalive   int          `yaml:"keepalive"`
	Device      DeviceConfig `yaml:"device"`
}

// Address - host:port to listen on
func (s ServerConfig) Address() string {
	return tools.ToAddressString(s.Host, s.Port)
}

// KeepaliveInterval - Keepalive as a duration
func (c ClientConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.Keepalive) * time.Second
}

// Default - configuration used when no file exists
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 20096,
		},
		Client: ClientConfig{
			Keepalive: int(variable.ClientKeepaliveDefault / time.Second),
			Device:    DeviceConfig{Name: variable.DefaultDeviceName},
		},
	}
}

// DefaultPath - $HOME/.tinytun/config.yaml
func DefaultPath() string {
	return path.Join(variable.ConfigBaseDir, variable.ConfigFileName)
}

// Parse - decode YAML over the defaults, unknown keys are an error
func Parse(content []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load - read and parse the file at path
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// LoadOrDefault - Load, or Default when path does not exist
func LoadOrDefault(path string) (*Config, error) {
	if !tools.PathExist(path) {
		return Default(), nil
	}
	return Load(path)
}

// ValidateKey - passphrase policy
func ValidateKey(key string) error {
	if len(key) < variable.MinKeyLength {
		return fmt.Errorf("key must have at least %d characters", variable.MinKeyLength)
	}
	return nil
}

// ValidateServer - settings needed by `tinytun server`
func (c *Config) ValidateServer() error {
	if err := ValidateKey(c.Key); err != nil {
		return err
	}
	if !c.Server.Stdio && c.Server.Port == 0 {
		return errors.New("server port must be in 1-65535")
	}
	if c.Server.Stdio && c.Server.Device.Name == "" {
		return errors.New("a stdio server needs a device")
	}
	return validateDevice(c.Server.Device)
}

// ValidateClient - settings needed by `tinytun client`
func (c *Config) ValidateClient() error {
	if err := ValidateKey(c.Key); err != nil {
		return err
	}
	switch {
	case c.Client.Connect == "" && c.Client.Proxy == "":
		return errors.New("client needs a server address or a proxy command")
	case c.Client.Connect != "" && c.Client.Proxy != "":
		return errors.New("client takes a server address or a proxy command, not both")
	case c.Client.Connect != "":
		if _, _, err := net.SplitHostPort(c.Client.Connect); err != nil {
			return fmt.Errorf("server address: %w", err)
		}
	}
	k := c.Client.KeepaliveInterval()
	if k < variable.ClientKeepaliveMin || k > variable.ClientKeepaliveMax {
		return fmt.Errorf("keepalive must be in %d-%d seconds",
			variable.ClientKeepaliveMin/time.Second, variable.ClientKeepaliveMax/time.Second)
	}
	if c.Client.Device.Name == "" {
		return errors.New("client needs a device")
	}
	return validateDevice(c.Client.Device)
}

// maxMTU - the largest frame still fits a maximum size message
const maxMTU = variable.MaxMessageSize - 4 - 14

func validateDevice(d DeviceConfig) error {
	if d.MTU != 0 && (d.MTU < 576 || d.MTU > maxMTU) {
		return fmt.Errorf("mtu %d out of range", d.MTU)
	}
	for _, a := range d.Addresses {
		if _, _, err := net.ParseCIDR(a); err != nil {
			return fmt.Errorf("device address: %w", err)
		}
	}
	return nil
}

// Template - the commented file written by `tinytun genconfig`
func Template() []byte {
	return []byte(`# tinytun configuration, command line flags override these values

# shared passphrase, at least 4 characters
key: ""

log:
  verbose: false
  trace: false
  json: false

server:
  host: 0.0.0.0
  port: 20096
  # serve a single tunnel over stdin/stdout, for use as a proxy command
  stdio: false
  device:
    # leave empty for a pure switch without a local interface
    name: ""
    mtu: 0
    addresses: []

client:
  # host:port of the server
  connect: ""
  # or a command reaching "tinytun server -stdio", e.g. ssh user@host tinytun server -stdio
  proxy: ""
  # run the proxy command in a pty so it can ask for passwords
  interactive: false
  # seconds between keepalives, 5-60
  keepalive: 60
  device:
    name: tap%d
    mtu: 0
    addresses: []
`)
}

// WriteTemplate - create the template at path unless a file is already there
func WriteTemplate(path string) ([]byte, error) {
	return tools.ReadOrCreateFile(path, Template)
}
