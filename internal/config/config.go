// Package config loads the YAML configuration of the graphload binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hanpama/graphload/internal/guard"
	"github.com/hanpama/graphload/internal/query"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Limits  Limits  `yaml:"limits"`
	Cursor  Cursor  `yaml:"cursor"`
	Storage Storage `yaml:"storage"`
	Store   Store   `yaml:"store"`
	OTel    OTel    `yaml:"otel"`
	Log     Log     `yaml:"log"`
}

type Server struct {
	Addr         string        `yaml:"addr"`
	Timeout      time.Duration `yaml:"timeout"`
	Pretty       bool          `yaml:"pretty"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	// DocumentCache is the number of parsed documents kept; 0 disables it.
	DocumentCache int `yaml:"document_cache"`
	// Stats adds execution statistics to response extensions.
	Stats bool `yaml:"stats"`
	// MaxBatchOperations bounds the operations of one batched request;
	// 0 is unbounded.
	MaxBatchOperations int      `yaml:"max_batch_operations"`
	CORSOrigins        []string `yaml:"cors_origins"`
	MetadataHeaders    []string `yaml:"metadata_headers"`
}

type Limits struct {
	MaxDepth        int `yaml:"max_depth"`
	MaxCost         int `yaml:"max_cost"`
	MaxSelections   int `yaml:"max_selections"`
	MaxPageSize     int `yaml:"max_page_size"`
	DefaultPageSize int `yaml:"default_page_size"`
	MaxBatchRows    int `yaml:"max_batch_rows"`
	MaxBatchKeys    int `yaml:"max_batch_keys"`
	MaxTicks        int `yaml:"max_ticks"`
	Parallelism     int `yaml:"parallelism"`
	// FlushConcurrency bounds the storage calls of one tick; 0 is unbounded.
	FlushConcurrency int `yaml:"flush_concurrency"`
}

type Cursor struct {
	// Secret signs pagination cursors. Empty disables cursors.
	Secret string `yaml:"secret"`
}

const (
	BackendMemory = "memory"
	BackendGRPC   = "grpc"
)

type Storage struct {
	Backend             string        `yaml:"backend"`
	Endpoints           []string      `yaml:"endpoints"`
	MaxConnsPerEndpoint int           `yaml:"max_conns_per_endpoint"`
	RPCTimeout          time.Duration `yaml:"rpc_timeout"`
}

// Store configures the standalone gRPC store process.
type Store struct {
	Addr string `yaml:"addr"`
}

type OTel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:               ":8080",
			Timeout:            10 * time.Second,
			MaxBodyBytes:       1 << 20,
			DocumentCache:      512,
			MaxBatchOperations: 10,
		},
		Limits: Limits{
			MaxDepth:        10,
			MaxCost:         50000,
			MaxSelections:   5000,
			MaxPageSize:     query.DefaultLimits.MaxPageSize,
			DefaultPageSize: query.DefaultLimits.DefaultPageSize,
			MaxBatchRows:    query.DefaultLimits.MaxBatchRows,
			MaxBatchKeys:    1000,
			MaxTicks:        64,
		},
		Storage: Storage{
			Backend:             BackendMemory,
			MaxConnsPerEndpoint: 2,
			RPCTimeout:          3 * time.Second,
		},
		Store: Store{Addr: ":9090"},
		OTel:  OTel{Service: "graphload"},
		Log:   Log{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes b over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}
	l := c.Limits
	check(l.MaxDepth >= 0, "limits.max_depth must not be negative")
	check(l.MaxCost >= 0, "limits.max_cost must not be negative")
	check(l.MaxSelections >= 0, "limits.max_selections must not be negative")
	check(l.MaxPageSize > 0, "limits.max_page_size must be positive")
	check(l.DefaultPageSize > 0 && l.DefaultPageSize <= l.MaxPageSize,
		"limits.default_page_size must be within [1, max_page_size]")
	check(l.MaxBatchRows > 0, "limits.max_batch_rows must be positive")
	check(l.MaxBatchKeys > 0, "limits.max_batch_keys must be positive")
	check(l.MaxTicks > 0, "limits.max_ticks must be positive")
	check(l.Parallelism >= 0, "limits.parallelism must not be negative")
	check(l.FlushConcurrency >= 0, "limits.flush_concurrency must not be negative")

	check(c.Server.Timeout >= 0, "server.timeout must not be negative")
	check(c.Server.MaxBodyBytes > 0, "server.max_body_bytes must be positive")
	check(c.Server.DocumentCache >= 0, "server.document_cache must not be negative")
	check(c.Server.MaxBatchOperations >= 0, "server.max_batch_operations must not be negative")

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendGRPC:
		check(len(c.Storage.Endpoints) > 0, "storage.endpoints required for the grpc backend")
	default:
		check(false, "storage.backend %q is not one of memory, grpc", c.Storage.Backend)
	}
	check(c.Storage.RPCTimeout >= 0, "storage.rpc_timeout must not be negative")

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return errors.Join(errs...)
}

func (c Config) QueryLimits() query.Limits {
	return query.Limits{
		MaxPageSize:     c.Limits.MaxPageSize,
		DefaultPageSize: c.Limits.DefaultPageSize,
		MaxBatchRows:    c.Limits.MaxBatchRows,
	}
}

func (c Config) GuardLimits() guard.Limits {
	return guard.Limits{
		MaxDepth:      c.Limits.MaxDepth,
		MaxCost:       c.Limits.MaxCost,
		MaxSelections: c.Limits.MaxSelections,
	}
}
