package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool
	Config  string // config file path override

	// Values holds explicitly set setting flags keyed by conf key, in the
	// same form as config file values.
	Values map[string]string

	// Remaining args
	Args []string
}

// settingFlags binds each command-line flag to a conf key.
var settingFlags = []struct {
	name, key, usage string
}{
	{"network", "network", "Network type (mainnet or testnet)"},
	{"datadir", "datadir", "Data directory path"},
	{"genesis", "genesis", "Genesis JSON file (overrides the built-in genesis)"},

	{"p2p", "p2p.enabled", "Enable P2P networking"},
	{"p2p-port", "p2p.port", "P2P listen port"},
	{"seeds", "p2p.seeds", "Seed nodes as comma-separated libp2p multiaddrs"},
	{"maxpeers", "p2p.maxpeers", "Maximum number of peers"},
	{"nodiscover", "p2p.nodiscover", "Disable peer discovery"},
	{"dht-server", "p2p.dhtserver", "Run DHT in server mode (for seeds)"},
	{"sync-interval", "p2p.syncinterval", "Seconds between chain reconciliation rounds"},

	{"rpc", "rpc.enabled", "Enable RPC server"},
	{"rpc-addr", "rpc.addr", "RPC listen address"},
	{"rpc-port", "rpc.port", "RPC listen port"},
	{"rpc-allowed", "rpc.allowed", "Allowed IPs for RPC"},
	{"rpc-cors", "rpc.cors", "Allowed CORS origins for RPC (comma-separated)"},

	{"mine", "mining.enabled", "Enable block production"},
	{"mine-data", "mining.data", "Payload placed in mined blocks"},
	{"mining-threads", "mining.threads", "Nonce search goroutines"},

	{"log-level", "log.level", "Log level (debug, info, warn, error)"},
	{"log-file", "log.file", "Log file path"},
	{"log-json", "log.json", "Output logs as JSON"},
}

// settingValue is a flag.Value that records the raw string under its conf
// key. Only flags given on the command line end up in Values.
type settingValue struct {
	key    string
	kind   reflect.Kind
	values map[string]string
}

func (v *settingValue) String() string { return "" }

func (v *settingValue) Set(s string) error {
	switch v.kind {
	case reflect.Int:
		if _, err := strconv.Atoi(s); err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", s)
		}
		s = strconv.FormatBool(b)
	}
	v.values[v.key] = s
	return nil
}

// IsBoolFlag lets boolean settings be given without a value (--mine).
func (v *settingValue) IsBoolFlag() bool { return v.kind == reflect.Bool }

// ParseFlags parses command-line flags from os.Args.
func ParseFlags() *Flags {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

// parseFlags parses args into Flags without exiting, so it can be tested.
func parseFlags(args []string) (*Flags, error) {
	f := &Flags{Values: make(map[string]string)}
	fs := flag.NewFlagSet("ledgerd", flag.ContinueOnError)
	fs.Usage = printUsage

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	kinds := make(map[string]reflect.Kind)
	walkConf(reflect.ValueOf(&Config{}).Elem(), func(key string, fv reflect.Value) {
		kinds[key] = fv.Kind()
	})
	for _, sf := range settingFlags {
		fs.Var(&settingValue{key: sf.key, kind: kinds[sf.key], values: f.Values}, sf.name, sf.usage)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Args = fs.Args()

	// The flag package stops at the first positional argument.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies explicitly set command-line flags to cfg.
func ApplyFlags(cfg *Config, f *Flags) error {
	return ApplyFileConfig(cfg, f.Values)
}

func printUsage() {
	usage := `Klingnet Ledger - minimal proof-of-work ledger node

Usage:
  ledgerd [options]
  ledgerd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --datadir       Data directory (default: ~/.klingnet-ledger)
  --config, -c    Config file path (default: <datadir>/ledger.conf)
  --genesis       Genesis JSON file (default: built-in genesis)

P2P Options:
  --p2p             Enable P2P networking (default: true)
  --p2p-port        P2P listen port (mainnet: 30403, testnet: 30404)
  --seeds           Seed nodes as comma-separated libp2p multiaddrs
  --maxpeers        Maximum number of peers (default: 50)
  --nodiscover      Disable peer discovery
  --dht-server      Run DHT in server mode (for seed nodes)
  --sync-interval   Seconds between chain reconciliation rounds (default: 30)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (mainnet: 8555, testnet: 8655)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)

Mining Options:
  --mine            Enable block production
  --mine-data       Payload placed in mined blocks
  --mining-threads  Nonce search goroutines (default: 1)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/ledger.log)
  --log-json      Output logs as JSON

Examples:
  # Start mainnet node
  ledgerd

  # Start a mining testnet node
  ledgerd --network=testnet --mine --mine-data="hello"

Note:
  The chain is held in memory only; a restarted node rebuilds it from peers.
`
	fmt.Print(usage)
}

