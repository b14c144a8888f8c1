package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"craftskins/internal/archive"
	"craftskins/internal/ledger"
	"craftskins/internal/programs"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. LoadConfig reads it from an optional
// YAML file named by CRAFTSKINS_CONFIG and then applies environment
// overrides:
//
//	CRAFTSKINS_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CRAFTSKINS_SQLITE_PATH: path to sqlite file (default ./craftskins.db)
//	CRAFTSKINS_POSTGRES_DSN: postgres DSN when driver=postgres
//	CRAFTSKINS_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	CRAFTSKINS_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./snapshots)
//	CRAFTSKINS_ARCHIVE_S3_BUCKET, _REGION, _ENDPOINT, _PREFIX, _PATH_STYLE
//	CRAFTSKINS_PROGRAM_ID: base58 crafting program id
//	CRAFTSKINS_RATE_LIMIT_RPS, CRAFTSKINS_RATE_LIMIT_BURST: per-caller submission limit
//	CRAFTSKINS_LOG_LEVEL: debug|info|warn|error (default info)
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Archive   archive.Config  `yaml:"archive"`
	ProgramID string          `yaml:"program_id"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LogLevel  string          `yaml:"log_level"`
}

// RateLimitConfig bounds submissions per signing caller. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Storage:  StorageConfig{Driver: StorageSQLite},
		Archive:  archive.Config{Driver: archive.DriverFilesystem},
		LogLevel: "info",
	}
}

// LoadConfig resolves the configuration from CRAFTSKINS_CONFIG and the
// environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("CRAFTSKINS_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeConfig(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var storageDriver, archiveDriver string
	str("CRAFTSKINS_STORAGE_DRIVER", &storageDriver)
	if storageDriver != "" {
		cfg.Storage.Driver = StorageDriver(storageDriver)
	}
	str("CRAFTSKINS_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("CRAFTSKINS_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("CRAFTSKINS_ARCHIVE_DRIVER", &archiveDriver)
	if archiveDriver != "" {
		cfg.Archive.Driver = archive.Driver(archiveDriver)
	}
	str("CRAFTSKINS_ARCHIVE_FS_ROOT", &cfg.Archive.FSRoot)
	str("CRAFTSKINS_ARCHIVE_S3_BUCKET", &cfg.Archive.S3.Bucket)
	str("CRAFTSKINS_ARCHIVE_S3_REGION", &cfg.Archive.S3.Region)
	str("CRAFTSKINS_ARCHIVE_S3_ENDPOINT", &cfg.Archive.S3.Endpoint)
	str("CRAFTSKINS_ARCHIVE_S3_PREFIX", &cfg.Archive.S3.Prefix)
	if v, ok := os.LookupEnv("CRAFTSKINS_ARCHIVE_S3_PATH_STYLE"); ok {
		cfg.Archive.S3.PathStyle = strings.EqualFold(v, "true")
	}
	str("CRAFTSKINS_PROGRAM_ID", &cfg.ProgramID)
	str("CRAFTSKINS_LOG_LEVEL", &cfg.LogLevel)
	if v, ok := os.LookupEnv("CRAFTSKINS_RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CRAFTSKINS_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	if v, ok := os.LookupEnv("CRAFTSKINS_RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRAFTSKINS_RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimit.Burst = burst
	}
	return nil
}

// Program returns the configured crafting program id, or the default.
func (c Config) Program() (solana.PublicKey, error) {
	if c.ProgramID == "" {
		return solana.PublicKey{}, nil
	}
	id, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("program id: %w", err)
	}
	return id, nil
}

// Open builds a ledger over the configured store with every program
// installed and returns a service for it. Options are applied after those
// derived from cfg.
func Open(ctx context.Context, cfg Config, opts ...ServiceOption) (*Service, error) {
	programID, err := cfg.Program()
	if err != nil {
		return nil, err
	}
	logger, err := NewProductionZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	var base []ServiceOption
	if cfg.Archive.Driver != "" || cfg.Archive.FSRoot != "" {
		arch, err := archive.Open(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		base = append(base, WithArchive(arch))
	}
	store, err := OpenPersistentStore(cfg.Storage, NewDefaultRulesEngine(programID))
	if err != nil {
		return nil, err
	}
	l := ledger.New(store)
	programID = programs.Install(l, programID).ID()
	base = append(base,
		WithProgramID(programID),
		WithLogger(logger),
		WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	return NewService(l, append(base, opts...)...), nil
}
