package config

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// FromFile loads config from a specified file overriding defaults specified in
// the def parameter. If file does not exist or is empty defaults are assumed.
func FromFile(path string, def interface{}) (interface{}, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def interface{}) (interface{}, error) {
	cfg := def
	md, err := toml.NewDecoder(reader).Decode(cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("unknown config keys: %v", undecoded)
	}

	return cfg, nil
}

// EnvPrefix prefixes environment overrides of config fields, for example
// BAZAAR_LEDGER_ADDRESS or BAZAAR_IDENTITIES_ADDRESSES=0xa,0xb.
const EnvPrefix = "BAZAAR"

// ApplyEnv overrides fields of cfg that have a matching environment variable
// set. Unset variables leave the field alone.
func ApplyEnv(cfg *BazaarNode) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return xerrors.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// ConfigComment renders cfg as TOML with every line commented out, for
// writing a default config file.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}
