// Package config loads and validates the indexer's configuration, per spec
// §6's external-interface schema: a TOML file layered with EVM_INDEXER_*
// environment overrides.
//
// Grounded on the original Rust config.rs's config::Config::builder() two-
// source layering (file + env-prefixed), re-expressed with go-toml for the
// file parse and viper + sjson/gjson for the nested env-var patch step,
// following the teacher's own use of all three in its settings packages.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	null "gopkg.in/guregu/null.v4"

	"github.com/mrzigha/evm-indexer/internal/indexererr"
)

// RpcType is the transport kind of a configured RPC endpoint.
type RpcType string

const (
	RpcWebSocket RpcType = "ws"
	RpcHTTP      RpcType = "http"
)

// HealthCheckConfig configures the per-endpoint health-check loop (spec §4.6).
type HealthCheckConfig struct {
	IntervalSecs    uint64 `toml:"interval_secs" json:"interval_secs"`
	TimeoutSecs     uint64 `toml:"timeout_secs" json:"timeout_secs"`
	MinPeers        uint32 `toml:"min_peers" json:"min_peers"`
	MaxBlocksBehind uint64 `toml:"max_blocks_behind" json:"max_blocks_behind"`
}

// CircuitBreakerConfig configures one endpoint's circuit breaker (spec §4.2).
type CircuitBreakerConfig struct {
	FailureThreshold uint32 `toml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     uint64 `toml:"reset_timeout" json:"reset_timeout"`
	HalfOpenTimeout  uint64 `toml:"half_open_timeout" json:"half_open_timeout"`
}

// RpcEndpoint is one JSON-RPC URL for an EVM node (spec §3 RpcEndpoint).
type RpcEndpoint struct {
	URL            string               `toml:"url" json:"url"`
	RpcType        RpcType              `toml:"rpc_type" json:"rpc_type"`
	Priority       uint8                `toml:"priority" json:"priority"`
	HealthCheck    HealthCheckConfig    `toml:"health_check" json:"health_check"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker" json:"circuit_breaker"`
}

// ChainConfig is one watched chain (spec §3 ChainConfig). StartingBlock is
// optional: absent means historical sync is skipped entirely (spec §8
// boundary case), mirrored here with guregu/null exactly as the teacher's
// broadcaster.go uses null.Int64 for an optional starting block.
type ChainConfig struct {
	Name            string        `json:"name"`
	ContractAddress string        `json:"contract_address"`
	StartingBlock   null.Int      `json:"starting_block"`
	Rpcs            []RpcEndpoint `json:"rpcs"`
}

// tomlChainConfig mirrors ChainConfig for the initial TOML decode: go-toml's
// reflection-based decoder has no way to populate guregu/null's sql.Scanner
// struct fields, so starting_block is decoded as a plain pointer here and
// converted to null.Int once, after the TOML pass, in toConfig.
type tomlChainConfig struct {
	Name            string        `toml:"name"`
	ContractAddress string        `toml:"contract_address"`
	StartingBlock   *uint64       `toml:"starting_block"`
	Rpcs            []RpcEndpoint `toml:"rpcs"`
}

type tomlConfig struct {
	General  GeneralConfig     `toml:"general"`
	Database DatabaseConfig    `toml:"database"`
	Chains   []tomlChainConfig `toml:"chains"`
}

func (t tomlConfig) toConfig() Config {
	cfg := Config{General: t.General, Database: t.Database}
	for _, c := range t.Chains {
		chain := ChainConfig{
			Name:            c.Name,
			ContractAddress: c.ContractAddress,
			Rpcs:            c.Rpcs,
		}
		if c.StartingBlock != nil {
			chain.StartingBlock = null.IntFrom(int64(*c.StartingBlock))
		}
		cfg.Chains = append(cfg.Chains, chain)
	}
	return cfg
}

// DatabaseConfig describes the Mongo connection target (spec §6 database).
type DatabaseConfig struct {
	DbHost   string `toml:"db_host" json:"db_host"`
	DbPort   uint16 `toml:"db_port" json:"db_port"`
	DbName   string `toml:"db_name" json:"db_name"`
	Username string `toml:"username" json:"username"`
	Password string `toml:"password" json:"password"`
}

// GeneralConfig is the metrics HTTP bind address (spec §6 general).
type GeneralConfig struct {
	MetricsLaddr string `toml:"metrics_laddr" json:"metrics_laddr"`
	MetricsPort  uint16 `toml:"metrics_port" json:"metrics_port"`
}

// Config is the root configuration document (spec §6 schema).
type Config struct {
	General  GeneralConfig   `toml:"general" json:"general"`
	Database DatabaseConfig  `toml:"database" json:"database"`
	Chains   []ChainConfig   `toml:"chains" json:"chains"`
}

// Load reads EVM_INDEXER_CONFIG_PATH, parses it as TOML, layers
// EVM_INDEXER_* environment overrides on top, and validates the result.
func Load() (*Config, error) {
	path, ok := os.LookupEnv("EVM_INDEXER_CONFIG_PATH")
	if !ok || path == "" {
		return nil, errors.Wrap(indexererr.ErrMissingEnvVar, "EVM_INDEXER_CONFIG_PATH")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding config path")
	}

	if _, err := os.Stat(expanded); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(indexererr.ErrConfigFileNotFound, expanded)
		}
		return nil, errors.Wrap(err, "stat config file")
	}

	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var tc tomlConfig
	if err := toml.Unmarshal(raw, &tc); err != nil {
		return nil, errors.Wrap(err, "parsing config TOML")
	}
	cfg := tc.toConfig()

	doc, err := json.Marshal(&cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling config for env overlay")
	}

	doc, err = applyEnvOverrides(doc)
	if err != nil {
		return nil, errors.Wrap(err, "applying environment overrides")
	}

	var final Config
	if err := json.Unmarshal(doc, &final); err != nil {
		return nil, errors.Wrap(err, "decoding config after env overlay")
	}

	if err := final.Validate(); err != nil {
		return nil, err
	}

	return &final, nil
}

// applyEnvOverrides layers EVM_INDEXER_* environment variables onto the
// JSON-marshalled config document. database.username/password get viper's
// explicit binds (EVM_INDEXER_DATABASE_USERNAME / _PASSWORD per spec §6);
// every other EVM_INDEXER_<DOTTED_PATH> variable is applied as a dotted-path
// sjson patch, since viper's struct-tag binding can't reach into the
// chains[]/rpcs[] slice elements the schema nests fields under.
func applyEnvOverrides(doc []byte) ([]byte, error) {
	v := viper.New()
	v.SetEnvPrefix("EVM_INDEXER")
	v.AutomaticEnv()
	v.BindEnv("database.username", "EVM_INDEXER_DATABASE_USERNAME")
	v.BindEnv("database.password", "EVM_INDEXER_DATABASE_PASSWORD")

	var err error
	if u := v.GetString("database.username"); u != "" {
		doc, err = sjson.SetBytes(doc, "database.username", u)
		if err != nil {
			return nil, err
		}
	}
	if p := v.GetString("database.password"); p != "" {
		doc, err = sjson.SetBytes(doc, "database.password", p)
		if err != nil {
			return nil, err
		}
	}

	const prefix = "EVM_INDEXER_"
	skip := map[string]bool{
		"EVM_INDEXER_CONFIG_PATH": true,
		"EVM_INDEXER_ABI_PATH":    true,
		"EVM_INDEXER_LOG_PATH":    true,
		"EVM_INDEXER_DATABASE_USERNAME": true,
		"EVM_INDEXER_DATABASE_PASSWORD": true,
	}

	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || skip[name] || !strings.HasPrefix(name, prefix) {
			continue
		}
		dottedPath := envNameToPath(doc, strings.TrimPrefix(name, prefix))
		if dottedPath == "" {
			continue
		}
		doc, err = sjson.SetBytes(doc, dottedPath, value)
		if err != nil {
			return nil, errors.Wrapf(err, "applying override %s", name)
		}
	}

	return doc, nil
}

// envNameToPath maps a flattened SCREAMING_SNAKE env suffix (e.g.
// GENERAL_METRICS_PORT, or CHAINS_0_RPCS_0_URL) onto the gjson/sjson dotted
// path it corresponds to in doc (general.metrics_port, chains.0.rpcs.0.url),
// by walking doc's actual shape: at each object level it greedily matches
// the longest run of leading underscore-joined segments against a key
// present in the document (struct-tag keys are themselves snake_case and so
// may contain underscores of their own, e.g. metrics_port), and at each
// array level it consumes exactly one segment as a numeric index. Returns
// "" if the suffix can't be resolved against doc's shape at all, so
// unrelated EVM_INDEXER_* variables are ignored rather than fabricating new
// document keys.
func envNameToPath(doc []byte, suffix string) string {
	segments := strings.Split(strings.ToLower(suffix), "_")
	path, ok := resolveEnvPath(gjson.ParseBytes(doc), segments)
	if !ok {
		return ""
	}
	return path
}

func resolveEnvPath(node gjson.Result, segments []string) (string, bool) {
	if len(segments) == 0 {
		return "", true
	}

	if node.IsArray() {
		idx := segments[0]
		if _, err := strconv.Atoi(idx); err != nil {
			return "", false
		}
		elem := node.Get(idx)
		if !elem.Exists() {
			return "", false
		}
		rest, ok := resolveEnvPath(elem, segments[1:])
		if !ok {
			return "", false
		}
		if rest == "" {
			return idx, true
		}
		return idx + "." + rest, true
	}

	if node.IsObject() {
		for end := len(segments); end >= 1; end-- {
			key := strings.Join(segments[:end], "_")
			child := node.Get(key)
			if !child.Exists() {
				continue
			}
			rest, ok := resolveEnvPath(child, segments[end:])
			if !ok {
				continue
			}
			if rest == "" {
				return key, true
			}
			return key + "." + rest, true
		}
		return "", false
	}

	return "", false
}

// Validate enforces the data-model invariants of spec §3: a chain config
// must have at least one RPC endpoint, a well-formed contract address, and
// a valid (ws|http) rpc_type on every endpoint.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: at least one chain must be configured")
	}
	for _, chain := range c.Chains {
		if len(chain.Rpcs) == 0 {
			return errors.Errorf("config: chain %q has no rpc endpoints", chain.Name)
		}
		if !isHexContractAddress(chain.ContractAddress) {
			return errors.Wrapf(indexererr.ErrInvalidAddress, "chain %q contract_address %q", chain.Name, chain.ContractAddress)
		}
		for _, rpc := range chain.Rpcs {
			if rpc.RpcType != RpcWebSocket && rpc.RpcType != RpcHTTP {
				return errors.Wrapf(indexererr.ErrInvalidRpcType, "chain %q endpoint %q", chain.Name, rpc.URL)
			}
		}
	}
	return nil
}

func isHexContractAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return false
	}
	for _, r := range addr[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
