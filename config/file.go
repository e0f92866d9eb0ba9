package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// keyAliases maps shorthand config file keys to their full conf tag.
var keyAliases = map[string]string{
	"p2p":  "p2p.enabled",
	"rpc":  "rpc.enabled",
	"mine": "mining.enabled",
}

const defaultConfigHeader = `# Klingnet Ledger node configuration
#
# Node settings only. Protocol rules (genesis block, difficulty prefix)
# live in the genesis configuration and cannot be changed here.
#
# Lists are comma-separated. Seeds are libp2p multiaddrs, e.g.
#   p2p.seeds = /ip4/203.0.113.1/tcp/30403/p2p/12D3KooW...
`

// LoadFile reads a .conf file of "key = value" lines. Blank lines and lines
// starting with # are skipped. A missing file yields no values.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return values, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// ApplyFileConfig sets the Config fields named by the conf tags in values.
// Unknown keys are ignored.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	fields := make(map[string]reflect.Value)
	walkConf(reflect.ValueOf(cfg).Elem(), func(key string, f reflect.Value) {
		fields[key] = f
	})

	for key, value := range values {
		if full, ok := keyAliases[key]; ok {
			key = full
		}
		f, ok := fields[key]
		if !ok {
			continue
		}
		if err := setField(f, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// walkConf calls fn for each conf-tagged field of v in declaration order,
// descending into untagged section structs.
func walkConf(v reflect.Value, fn func(key string, f reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if key := t.Field(i).Tag.Get("conf"); key != "" {
			fn(key, f)
		} else if f.Kind() == reflect.Struct {
			walkConf(f, fn)
		}
	}
}

func setField(f reflect.Value, value string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Bool:
		f.SetBool(parseBool(value))
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case reflect.Slice:
		f.Set(reflect.ValueOf(parseStringList(value)))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func formatField(f reflect.Value) string {
	if list, ok := f.Interface().([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(f.Interface())
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	var result []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes the defaults for network as a config file.
// Empty settings and the data directory are written commented out.
func WriteDefaultConfig(path string, network NetworkType) error {
	var b strings.Builder
	b.WriteString(defaultConfigHeader)

	section := ""
	walkConf(reflect.ValueOf(Default(network)).Elem(), func(key string, f reflect.Value) {
		if name, _, ok := strings.Cut(key, "."); ok && name != section {
			section = name
			fmt.Fprintf(&b, "\n# ── %s ──\n", name)
		}
		value := formatField(f)
		switch {
		case key == "datadir":
			fmt.Fprintf(&b, "# %s = %s\n", key, value)
		case value == "":
			fmt.Fprintf(&b, "# %s =\n", key)
		default:
			fmt.Fprintf(&b, "%s = %s\n", key, value)
		}
	})

	return os.WriteFile(path, []byte(b.String()), 0644)
}
