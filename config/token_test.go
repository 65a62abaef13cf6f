// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func TestResolveTokenInline(t *testing.T) {
	g := GatewayConfig{BotToken: "inline-token"}
	token, err := g.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "inline-token" {
		t.Errorf("token = %q, want inline-token", token)
	}
}

func TestResolveTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	g := GatewayConfig{BotTokenFile: path}
	token, err := g.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "file-token" {
		t.Errorf("token = %q, want file-token", token)
	}
}

func TestResolveTokenFromEncryptedFile(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, identity.Recipient())
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := io.WriteString(w, "sealed-token\n"); err != nil {
		t.Fatalf("writing plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing encryptor: %v", err)
	}

	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.age")
	if err := os.WriteFile(tokenPath, sealed.Bytes(), 0600); err != nil {
		t.Fatalf("writing sealed token: %v", err)
	}
	identityPath := filepath.Join(dir, "identity")
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}

	g := GatewayConfig{BotTokenFile: tokenPath, IdentityFile: identityPath}
	token, err := g.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "sealed-token" {
		t.Errorf("token = %q, want sealed-token", token)
	}
}

func TestResolveTokenWrongIdentity(t *testing.T) {
	sealer, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	other, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, sealer.Recipient())
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := io.WriteString(w, "sealed-token"); err != nil {
		t.Fatalf("writing plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing encryptor: %v", err)
	}

	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.age")
	if err := os.WriteFile(tokenPath, sealed.Bytes(), 0600); err != nil {
		t.Fatalf("writing sealed token: %v", err)
	}
	identityPath := filepath.Join(dir, "identity")
	if err := os.WriteFile(identityPath, []byte(other.String()+"\n"), 0600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}

	g := GatewayConfig{BotTokenFile: tokenPath, IdentityFile: identityPath}
	if _, err := g.ResolveToken(); err == nil {
		t.Error("expected decryption failure with wrong identity")
	}
}

func TestResolveTokenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	g := GatewayConfig{BotTokenFile: path}
	if _, err := g.ResolveToken(); err == nil {
		t.Error("expected error for empty token file")
	}
}

func TestResolveTokenNoSource(t *testing.T) {
	if _, err := (GatewayConfig{}).ResolveToken(); err == nil {
		t.Error("expected error when no token source is configured")
	}
}
