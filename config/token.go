// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// ResolveToken returns the Discord bot token from whichever source the
// gateway section configures.
//
// Resolution order:
//   - BotToken: returned as-is.
//   - BotTokenFile without IdentityFile: file contents, whitespace-trimmed.
//   - BotTokenFile with IdentityFile: the file is age ciphertext (binary
//     format, not armored); it is decrypted with the first identity in
//     IdentityFile and the plaintext is whitespace-trimmed.
//
// Keeping the token out of the config file (and out of CLI arguments,
// which are visible in /proc/*/cmdline and shell history) is the point of
// the file-based sources.
func (g GatewayConfig) ResolveToken() (string, error) {
	if g.BotToken != "" {
		return g.BotToken, nil
	}
	if g.BotTokenFile == "" {
		return "", fmt.Errorf("no gateway token configured: set gateway.botToken or gateway.botTokenFile")
	}

	data, err := os.ReadFile(g.BotTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading gateway token file: %w", err)
	}

	if g.IdentityFile == "" {
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("gateway token file %s is empty", g.BotTokenFile)
		}
		return token, nil
	}

	plaintext, err := decryptWithIdentityFile(data, g.IdentityFile)
	if err != nil {
		return "", fmt.Errorf("decrypting gateway token file %s: %w", g.BotTokenFile, err)
	}
	token := strings.TrimSpace(string(plaintext))
	if token == "" {
		return "", fmt.Errorf("gateway token file %s decrypted to empty", g.BotTokenFile)
	}
	return token, nil
}

// decryptWithIdentityFile decrypts age ciphertext using the identities in
// the given file (the format written by age-keygen: comment lines plus
// AGE-SECRET-KEY-1... lines).
func decryptWithIdentityFile(ciphertext []byte, identityPath string) ([]byte, error) {
	identityFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer identityFile.Close()

	identities, err := age.ParseIdentities(identityFile)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", identityPath, err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted token: %w", err)
	}
	return plaintext, nil
}
