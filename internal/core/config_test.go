package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"craftskins/internal/archive"
	"craftskins/internal/craft"
	"craftskins/internal/infra/persistence/memory"
	"craftskins/internal/infra/persistence/sqlite"

	"github.com/gagliardetto/solana-go"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CRAFTSKINS_CONFIG", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != StorageSQLite || cfg.Archive.Driver != archive.DriverFilesystem || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	id, err := cfg.Program()
	if err != nil || !id.IsZero() {
		t.Fatalf("default program = %s, %v", id, err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "craftskins.yaml")
	programID := solana.NewWallet().PublicKey()
	yml := strings.Join([]string{
		"storage:",
		"  driver: postgres",
		"  postgres_dsn: postgres://file",
		"archive:",
		"  driver: s3",
		"  s3:",
		"    bucket: snapshots",
		"    path_style: true",
		"program_id: " + programID.String(),
		"rate_limit:",
		"  rps: 2.5",
		"  burst: 4",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CRAFTSKINS_CONFIG", path)
	t.Setenv("CRAFTSKINS_POSTGRES_DSN", "postgres://env")
	t.Setenv("CRAFTSKINS_RATE_LIMIT_BURST", "9")
	t.Setenv("CRAFTSKINS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != StoragePostgres || cfg.Storage.PostgresDSN != "postgres://env" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Archive.Driver != archive.DriverS3 || cfg.Archive.S3.Bucket != "snapshots" || !cfg.Archive.S3.PathStyle {
		t.Fatalf("archive = %+v", cfg.Archive)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 9 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if id, err := cfg.Program(); err != nil || id != programID {
		t.Fatalf("program = %s, %v", id, err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("unknown_key: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CRAFTSKINS_CONFIG", path)
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected unknown field error")
	}
	t.Setenv("CRAFTSKINS_CONFIG", filepath.Join(dir, "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected missing file error")
	}
	t.Setenv("CRAFTSKINS_CONFIG", "")
	t.Setenv("CRAFTSKINS_RATE_LIMIT_RPS", "fast")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected rps parse error")
	}
	if _, err := (Config{ProgramID: "not-base58!"}).Program(); err == nil {
		t.Fatalf("expected program id error")
	}
}

func TestOpenPersistentStore(t *testing.T) {
	engine := NewDefaultRulesEngine(craft.DefaultProgramID)
	store, err := OpenPersistentStore(StorageConfig{Driver: StorageMemory}, engine)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err = OpenPersistentStore(StorageConfig{SQLitePath: path}, engine)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok || sq.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, store)
	}
	if err := sq.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := OpenPersistentStore(StorageConfig{Driver: "tape"}, engine); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenService(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(dir, "ledger.db")}
	cfg.Archive = archive.Config{Driver: archive.DriverFilesystem, FSRoot: filepath.Join(dir, "snapshots")}
	cfg.LogLevel = "error"
	cfg.RateLimit = RateLimitConfig{RPS: 100, Burst: 10}

	ctx := context.Background()
	svc, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	admin, _ := solana.NewRandomPrivateKey()
	if err := svc.Ledger().Fund(ctx, admin.PublicKey(), 1_000_000_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := svc.Initialize(ctx, admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if svc.limits == nil || svc.archive == nil {
		t.Fatalf("config options not applied")
	}
	if _, err := svc.ArchiveSnapshot(ctx, "boot.json"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	manager, err := reopened.ProgramManager()
	if err != nil || manager.Administrator != admin.PublicKey() {
		t.Fatalf("manager after reopen = %+v, %v", manager, err)
	}

	bad := cfg
	bad.LogLevel = "loud"
	if _, err := Open(ctx, bad); err == nil {
		t.Fatalf("expected log level error")
	}
}
