package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/internal/partition"
	"github.com/vexsearch/vexroute/pkg/objectstore"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults applied by the getters when a field is left at zero.
const (
	DefaultNClusters  = 1000
	DefaultK          = 10
	DefaultProbeWidth = 1
	DefaultPrefix     = "vexroute/"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Partition   PartitionConfig   `json:"partition" yaml:"partition"`
	Search      SearchConfig      `json:"search" yaml:"search"`
	ObjectStore ObjectStoreConfig `json:"object_store" yaml:"object_store"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// PartitionConfig holds the clustering settings used by build.
type PartitionConfig struct {
	NClusters int  `json:"n_clusters" yaml:"n_clusters"`
	Spherical bool `json:"spherical" yaml:"spherical"`
	// MaxIterations bounds Lloyd refinement. Unset means
	// partition.DefaultMaxIterations; an explicit 0 keeps the initial
	// centroids.
	MaxIterations *int   `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Seed          int64  `json:"seed" yaml:"seed"`
	Init          string `json:"init" yaml:"init"`
	// Workers bounds the assignment goroutines. 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
}

// GetNClusters returns NClusters with default fallback.
func (c PartitionConfig) GetNClusters() int {
	if c.NClusters <= 0 {
		return DefaultNClusters
	}
	return c.NClusters
}

// GetMaxIterations returns MaxIterations with default fallback.
func (c PartitionConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return partition.DefaultMaxIterations
	}
	return *c.MaxIterations
}

// GetInit returns the init strategy, k-means++ when unset.
func (c PartitionConfig) GetInit() partition.Init {
	if c.Init == "" {
		return partition.InitKMeansPlusPlus
	}
	return partition.Init(c.Init)
}

// Options converts the section into partitioner options.
func (c PartitionConfig) Options() partition.Options {
	return partition.Options{
		NClusters:     c.GetNClusters(),
		Spherical:     c.Spherical,
		MaxIterations: c.GetMaxIterations(),
		Seed:          c.Seed,
		Init:          c.GetInit(),
		Workers:       c.Workers,
	}
}

// SearchConfig holds query execution settings.
type SearchConfig struct {
	K          int `json:"k" yaml:"k"`
	ProbeWidth int `json:"probe_width" yaml:"probe_width"`
	// Workers bounds the queries a batch runs at once. 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
	// MaxConcurrent caps in-flight queries per router across batches.
	// 0 means the query package default.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// GetK returns K with default fallback.
func (c SearchConfig) GetK() int {
	if c.K <= 0 {
		return DefaultK
	}
	return c.K
}

// GetProbeWidth returns ProbeWidth with default fallback.
func (c SearchConfig) GetProbeWidth() int {
	if c.ProbeWidth <= 0 {
		return DefaultProbeWidth
	}
	return c.ProbeWidth
}

type ObjectStoreConfig struct {
	Type      string `json:"type" yaml:"type"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Region    string `json:"region" yaml:"region"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
	RootPath  string `json:"root_path" yaml:"root_path"`
	// Prefix is prepended to every snapshot, manifest and export key.
	Prefix string `json:"prefix" yaml:"prefix"`
}

// StoreConfig converts the section for objectstore.New.
func (c ObjectStoreConfig) StoreConfig() objectstore.Config {
	return objectstore.Config{
		Type:      c.Type,
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		UseSSL:    c.UseSSL,
		RootPath:  c.RootPath,
	}
}

// GetPrefix returns Prefix with default fallback, always ending in "/".
func (c ObjectStoreConfig) GetPrefix() string {
	p := c.Prefix
	if p == "" {
		return DefaultPrefix
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// MetricsConfig controls the Prometheus endpoint. An empty ListenAddr
// disables it.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Partition: PartitionConfig{
			NClusters: DefaultNClusters,
			Init:      string(partition.InitKMeansPlusPlus),
		},
		Search: SearchConfig{
			K:          DefaultK,
			ProbeWidth: DefaultProbeWidth,
		},
		ObjectStore: ObjectStoreConfig{
			Type:     objectstore.TypeFS,
			RootPath: "vexroute-data",
			Bucket:   "vexroute",
			Region:   "us-east-1",
			Prefix:   DefaultPrefix,
		},
	}
}

// Load reads the config file at path, or at $VEXROUTE_CONFIG when path is
// empty, over the defaults, then applies VEXROUTE_* environment overrides
// and validates the result. Files ending in .yaml or .yml are YAML; anything
// else is JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VEXROUTE_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if env := os.Getenv("VEXROUTE_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"VEXROUTE_PARTITION_N_CLUSTERS", &cfg.Partition.NClusters},
		{"VEXROUTE_PARTITION_WORKERS", &cfg.Partition.Workers},
		{"VEXROUTE_SEARCH_K", &cfg.Search.K},
		{"VEXROUTE_SEARCH_PROBE_WIDTH", &cfg.Search.ProbeWidth},
		{"VEXROUTE_SEARCH_WORKERS", &cfg.Search.Workers},
		{"VEXROUTE_SEARCH_MAX_CONCURRENT", &cfg.Search.MaxConcurrent},
	}
	for _, v := range ints {
		if env := os.Getenv(v.name); env != "" {
			n, err := strconv.Atoi(strings.TrimSpace(env))
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, v.name, env)
			}
			*v.dst = n
		}
	}

	if env := os.Getenv("VEXROUTE_PARTITION_MAX_ITERATIONS"); env != "" {
		n, err := strconv.Atoi(strings.TrimSpace(env))
		if err != nil {
			return fmt.Errorf("%w: VEXROUTE_PARTITION_MAX_ITERATIONS=%q is not an integer", ErrInvalidConfig, env)
		}
		cfg.Partition.MaxIterations = &n
	}
	if env := os.Getenv("VEXROUTE_PARTITION_SEED"); env != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: VEXROUTE_PARTITION_SEED=%q is not an integer", ErrInvalidConfig, env)
		}
		cfg.Partition.Seed = n
	}
	if env := os.Getenv("VEXROUTE_PARTITION_SPHERICAL"); env != "" {
		cfg.Partition.Spherical = parseBool(env)
	}
	if env := os.Getenv("VEXROUTE_PARTITION_INIT"); env != "" {
		cfg.Partition.Init = env
	}

	if env := os.Getenv("VEXROUTE_OBJECT_STORE_TYPE"); env != "" {
		cfg.ObjectStore.Type = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_ENDPOINT"); env != "" {
		cfg.ObjectStore.Endpoint = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_BUCKET"); env != "" {
		cfg.ObjectStore.Bucket = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_ROOT"); env != "" {
		cfg.ObjectStore.RootPath = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_ACCESS_KEY"); env != "" {
		cfg.ObjectStore.AccessKey = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_SECRET_KEY"); env != "" {
		cfg.ObjectStore.SecretKey = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_REGION"); env != "" {
		cfg.ObjectStore.Region = env
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_USE_SSL"); env != "" {
		cfg.ObjectStore.UseSSL = parseBool(env)
	}
	if env := os.Getenv("VEXROUTE_OBJECT_STORE_PREFIX"); env != "" {
		cfg.ObjectStore.Prefix = env
	}

	if env := os.Getenv("VEXROUTE_METRICS_LISTEN_ADDR"); env != "" {
		cfg.Metrics.ListenAddr = env
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	return s == "true" || s == "1"
}

// Validate rejects negative sizes, unknown init strategies, unknown store
// types and unknown log levels.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, err := logging.ParseLevel(c.LogLevel)
	check(err == nil, "log_level %q is not one of debug, info, warn, error", c.LogLevel)

	p := c.Partition
	check(p.NClusters >= 0, "partition.n_clusters must not be negative, got %d", p.NClusters)
	check(p.MaxIterations == nil || *p.MaxIterations >= 0, "partition.max_iterations must not be negative")
	check(p.Workers >= 0, "partition.workers must not be negative, got %d", p.Workers)
	check(p.GetInit().IsValid(), "partition.init %q is not one of kmeans++, random", p.Init)

	s := c.Search
	check(s.K >= 0, "search.k must not be negative, got %d", s.K)
	check(s.ProbeWidth >= 0, "search.probe_width must not be negative, got %d", s.ProbeWidth)
	check(s.Workers >= 0, "search.workers must not be negative, got %d", s.Workers)
	check(s.MaxConcurrent >= 0, "search.max_concurrent must not be negative, got %d", s.MaxConcurrent)

	switch c.ObjectStore.Type {
	case "", objectstore.TypeMemory, objectstore.TypeS3:
	case objectstore.TypeFS:
		check(c.ObjectStore.RootPath != "", "object_store.root_path is required for type fs")
	default:
		check(false, "object_store.type %q is not one of memory, fs, s3", c.ObjectStore.Type)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
