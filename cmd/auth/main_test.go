package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
)

func TestRun(t *testing.T) {
	cfg := &config.Config{
		Auth:   config.AuthConfig{Enabled: true, Driver: "sqlite"},
		SQLite: config.SQLiteConfig{Path: sqlite.MemoryPath},
	}
	ctx := context.Background()
	store, closeDB, err := open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closeDB() })

	var out bytes.Buffer
	if err := run(ctx, store, "create", []string{"-name", "ops", "-ttl", "24h"}, &out); err != nil {
		t.Fatal(err)
	}
	var id string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "id:"); ok {
			id = strings.TrimSpace(v)
		}
	}
	if id == "" || !strings.Contains(out.String(), "expires:") {
		t.Fatalf("create output:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, store, "list", nil, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), id) || !strings.Contains(out.String(), "ops") {
		t.Errorf("list output:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, store, "revoke", []string{"-id", id}, &out); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	run(ctx, store, "list", nil, &out)
	if strings.Contains(out.String(), id) {
		t.Errorf("revoked key still listed:\n%s", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Driver: "sqlite"}, SQLite: config.SQLiteConfig{Path: sqlite.MemoryPath}}
	store, closeDB, err := open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closeDB() })

	tests := []struct {
		cmd  string
		args []string
	}{
		{"create", nil},
		{"revoke", nil},
		{"revoke", []string{"-id", "missing"}},
		{"rotate", nil},
		{"create", []string{"-bogus"}},
	}
	for _, tt := range tests {
		if err := run(context.Background(), store, tt.cmd, tt.args, &bytes.Buffer{}); err == nil {
			t.Errorf("%s %v: expected error", tt.cmd, tt.args)
		}
	}
}
