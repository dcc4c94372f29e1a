package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rectcircle/tinytun/internal/tinytun"
	"github.com/rectcircle/tinytun/internal/tinytun/config"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rectcircle/tinytun/tools"
	"golang.org/x/term"
)

var (
	subcommandKeyServer    = "server"
	subcommandKeyClient    = "client"
	subcommandKeyGenconfig = "genconfig"
	subcommandKeyHelp      = "help"
)

// keyEnv - passphrase source used when -k is absent
const keyEnv = "TINYTUN_KEY"

// commonFlags - switches every run subcommand understands
type commonFlags struct {
	key        string
	configPath string
	verbose    bool
	trace      bool
	json       bool
	help       bool
	addresses  string
	mtu        int
	dev        string
}

func (c *commonFlags) register(flagset *flag.FlagSet) {
	flagset.StringVar(&c.key, "k", "", "key - shared passphrase, at least 4 characters (default $"+keyEnv+", then a prompt)")
	flagset.StringVar(&c.configPath, "config", config.DefaultPath(), "config - yaml config file")
	flagset.BoolVar(&c.verbose, "v", false, "verbose - debug logging")
	flagset.BoolVar(&c.trace, "trace", false, "trace - log every frame")
	flagset.BoolVar(&c.json, "json", false, "json - log json lines instead of console text")
	flagset.StringVar(&c.dev, "dev", "", "dev - tap device name")
	flagset.StringVar(&c.addresses, "addr", "", "addr - comma separated CIDR addresses for the device")
	flagset.IntVar(&c.mtu, "mtu", 0, "mtu - device mtu")
	flagset.BoolVar(&c.help, "help", false, "output this subcommand help")
}

// apply - key and logging flags over cfg, only those set explicitly
func (c *commonFlags) apply(flagset *flag.FlagSet, cfg *config.Config) {
	if c.key != "" {
		cfg.Key = c.key
	} else if env := os.Getenv(keyEnv); env != "" && cfg.Key == "" {
		cfg.Key = env
	}
	if set(flagset, "v") {
		cfg.Log.Verbose = c.verbose
	}
	if set(flagset, "trace") {
		cfg.Log.Trace = c.trace
	}
	if set(flagset, "json") {
		cfg.Log.JSON = c.json
	}
}

func set(flagset *flag.FlagSet, name string) bool {
	found := false
	flagset.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func applyDevice(flagset *flag.FlagSet, c *commonFlags, device *config.DeviceConfig) {
	if set(flagset, "dev") {
		device.Name = c.dev
	}
	if set(flagset, "mtu") {
		device.MTU = c.mtu
	}
	if set(flagset, "addr") {
		device.Addresses = nil
		for _, a := range strings.Split(c.addresses, ",") {
			if a = strings.TrimSpace(a); a != "" {
				device.Addresses = append(device.Addresses, a)
			}
		}
	}
}

func newFlagSet(subcommand string, desc string) *flag.FlagSet {
	flagset := flag.NewFlagSet(subcommand, flag.ContinueOnError)
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "%s\nUsage of `%s %s`:\n", desc, os.Args[0], subcommand)
		flagset.PrintDefaults()
	}
	return flagset
}

func loadConfig(c *commonFlags) (*config.Config, error) {
	if c.configPath == config.DefaultPath() {
		return config.LoadOrDefault(c.configPath)
	}
	return config.Load(c.configPath)
}

func parseServerArgs(args []string) (*config.Config, error) {
	var (
		c          commonFlags
		host       string
		portUint64 uint
		stdio      bool
	)
	subcommand := subcommandKeyServer
	flagset := newFlagSet(subcommand, "Start a tinytun server (hub)")
	c.register(flagset)
	flagset.StringVar(&host, "h", "0.0.0.0", "host - bind host")
	flagset.UintVar(&portUint64, "p", 20096, "port - bind port")
	flagset.BoolVar(&stdio, "stdio", false, "stdio - serve one tunnel over stdin/stdout")
	if err := flagset.Parse(args[1:]); err != nil {
		return nil, err
	}
	if c.help {
		flagset.Usage()
		return nil, flag.ErrHelp
	}
	if portUint64 >= (1 << 16) {
		return nil, errors.New("port must is uint16")
	}
	cfg, err := loadConfig(&c)
	if err != nil {
		return nil, err
	}
	c.apply(flagset, cfg)
	if set(flagset, "h") {
		cfg.Server.Host = host
	}
	if set(flagset, "p") {
		cfg.Server.Port = uint16(portUint64)
	}
	if set(flagset, "stdio") {
		cfg.Server.Stdio = stdio
	}
	applyDevice(flagset, &c, &cfg.Server.Device)
	return cfg, nil
}

func parseClientArgs(args []string) (*config.Config, error) {
	var (
		c           commonFlags
		connect     string
		keepalive   int
		proxy       string
		interactive bool
	)
	subcommand := subcommandKeyClient
	flagset := newFlagSet(subcommand, "Start a tinytun client")
	c.register(flagset)
	flagset.StringVar(&connect, "c", "", "connect - server host:port")
	flagset.IntVar(&keepalive, "t", 60, "keepalive - seconds between keepalives (5-60)")
	flagset.StringVar(&proxy, "proxy", "", "proxy - command reaching `tinytun server -stdio`, instead of -c")
	flagset.BoolVar(&interactive, "i", false, "interactive - start the proxy command with a pty so it can prompt")
	if err := flagset.Parse(args[1:]); err != nil {
		return nil, err
	}
	if c.help {
		flagset.Usage()
		return nil, flag.ErrHelp
	}
	cfg, err := loadConfig(&c)
	if err != nil {
		return nil, err
	}
	c.apply(flagset, cfg)
	// a target on the command line replaces the other kind of target from the file
	if set(flagset, "c") {
		cfg.Client.Connect = connect
		if !set(flagset, "proxy") {
			cfg.Client.Proxy = ""
		}
	}
	if set(flagset, "proxy") {
		cfg.Client.Proxy = proxy
		if !set(flagset, "c") {
			cfg.Client.Connect = ""
		}
	}
	if set(flagset, "t") {
		cfg.Client.Keepalive = keepalive
	}
	if set(flagset, "i") {
		cfg.Client.Interactive = interactive
	}
	applyDevice(flagset, &c, &cfg.Client.Device)
	return cfg, nil
}

// promptKey - read the passphrase from the terminal without echo
func promptKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no key given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(key), err
}

func exitOnParseError(err error) {
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(2)
	}
}

func helpAndExit(isErr bool) {
	stdOutOrErr := os.Stdout
	if isErr {
		stdOutOrErr = os.Stderr
	}
	fmt.Fprintf(stdOutOrErr, "An encrypted Ethernet tunnel over TCP\nUsage of %s server | client | genconfig\n  -help\n         output this help\n", os.Args[0])
	if isErr {
		os.Exit(2)
	}
}

func main() {
	if len(os.Args) < 2 {
		helpAndExit(true)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case subcommandKeyServer:
		cfg, err := parseServerArgs(os.Args[1:])
		exitOnParseError(err)
		tools.SetupLogger(cfg.Log.Verbose, cfg.Log.Trace, cfg.Log.JSON)
		if cfg.Key == "" && !cfg.Server.Stdio {
			cfg.Key, err = promptKey()
			tools.LogAndExitIfErr(err)
		}
		tools.LogAndExitIfErr(cfg.ValidateServer())
		server := tinytun.NewServer(cfg.Server, crypt.DeriveKey(cfg.Key))
		tools.LogAndExitIfErr(server.Run(ctx))
	case subcommandKeyClient:
		cfg, err := parseClientArgs(os.Args[1:])
		exitOnParseError(err)
		tools.SetupLogger(cfg.Log.Verbose, cfg.Log.Trace, cfg.Log.JSON)
		if cfg.Key == "" {
			cfg.Key, err = promptKey()
			tools.LogAndExitIfErr(err)
		}
		tools.LogAndExitIfErr(cfg.ValidateClient())
		client := tinytun.NewClient(cfg.Client, crypt.DeriveKey(cfg.Key))
		tools.LogAndExitIfErr(client.Run(ctx))
	case subcommandKeyGenconfig:
		path := config.DefaultPath()
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		_, err := config.WriteTemplate(path)
		tools.LogAndExitIfErr(err)
		fmt.Println(path)
	case subcommandKeyHelp:
		helpAndExit(false)
	default:
		helpAndExit(true)
	}
}
