package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func useTempLedger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CRAFTSKINS_CONFIG", "")
	t.Setenv("CRAFTSKINS_STORAGE_DRIVER", "sqlite")
	t.Setenv("CRAFTSKINS_SQLITE_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("CRAFTSKINS_ARCHIVE_DRIVER", "fs")
	t.Setenv("CRAFTSKINS_ARCHIVE_FS_ROOT", filepath.Join(dir, "snapshots"))
	t.Setenv("CRAFTSKINS_LOG_LEVEL", "error")
	return dir
}

func writeKeypair(t *testing.T, dir string) (string, solana.PrivateKey) {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	data, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("marshal keypair: %v", err)
	}
	path := filepath.Join(dir, "admin.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}
	return path, key
}

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLIAdministration(t *testing.T) {
	dir := useTempLedger(t)
	keypair, admin := writeKeypair(t, dir)

	if code, out, errOut := invoke(t, "airdrop", "-address", admin.PublicKey().String()); code != 0 || !strings.Contains(out, "credited") {
		t.Fatalf("airdrop = %d %q %q", code, out, errOut)
	}
	if code, out, errOut := invoke(t, "init", "-keypair", keypair); code != 0 || !strings.Contains(out, admin.PublicKey().String()) {
		t.Fatalf("init = %d %q %q", code, out, errOut)
	}
	code, out, _ := invoke(t, "manager")
	if code != 0 || strings.TrimSpace(out) != admin.PublicKey().String() {
		t.Fatalf("manager = %d %q", code, out)
	}
	code, _, errOut := invoke(t, "-trace", "init", "-keypair", keypair)
	if code != 1 || !strings.Contains(errOut, `"operation":"initialize"`) || !strings.Contains(errOut, `"status":"error"`) {
		t.Fatalf("second init = %d %q", code, errOut)
	}

	missing := solana.NewWallet().PublicKey().String()
	if code, _, _ := invoke(t, "recipe", "-mint", missing); code != 1 {
		t.Fatalf("missing recipe exit = %d", code)
	}
	if code, out, _ := invoke(t, "escrow", "-mint", missing); code != 0 || strings.TrimSpace(out) != "0" {
		t.Fatalf("escrow = %d %q", code, out)
	}
	if code, out, errOut := invoke(t, "snapshot", "-key", "boot.json"); code != 0 || !strings.Contains(out, "archived boot.json") {
		t.Fatalf("snapshot = %d %q %q", code, out, errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshots", "boot.json")); err != nil {
		t.Fatalf("snapshot file: %v", err)
	}
	if code, out, errOut := invoke(t, "restore", "-key", "boot.json"); code != 0 || !strings.Contains(out, "restored boot.json") {
		t.Fatalf("restore = %d %q %q", code, out, errOut)
	}
}

func TestCLIUsage(t *testing.T) {
	useTempLedger(t)
	cases := [][]string{
		{},
		{"-nope"},
		{"teleport"},
		{"init"},
		{"snapshot"},
		{"recipe", "-mint", ""},
	}
	for _, args := range cases {
		if code, _, _ := invoke(t, args...); code != 2 {
			t.Errorf("%v exit = %d, want 2", args, code)
		}
	}
	code, out, _ := invoke(t, "config")
	if code != 0 || !strings.Contains(out, "storage:") || !strings.Contains(out, "driver: sqlite") {
		t.Fatalf("config = %d %q", code, out)
	}
	t.Setenv("CRAFTSKINS_RATE_LIMIT_BURST", "many")
	if code, _, errOut := invoke(t, "manager"); code != 1 || !strings.Contains(errOut, "config") {
		t.Fatalf("bad config = %d %q", code, errOut)
	}
}

func TestParseIngredients(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	mints, amounts, err := parseIngredients(a.String() + ":5, " + b.String() + ":2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mints) != 2 || mints[0] != a || mints[1] != b || amounts[0] != 5 || amounts[1] != 2 {
		t.Fatalf("parsed %v %v", mints, amounts)
	}
	for _, bad := range []string{"", a.String(), a.String() + ":x", "nope:1"} {
		if _, _, err := parseIngredients(bad); err == nil {
			t.Errorf("parseIngredients(%q) succeeded", bad)
		}
	}
}
