// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package appservice implements the Matrix application service side of
// the bridge: the registration descriptor shared with the homeserver
// and the HTTP listener that receives transactions and queries.
//
// The listener does not interpret events itself. Everything it receives
// is handed to an [EventSink]; the production sink is the dispatch
// controller, which routes to the bridge's handler components.
package appservice

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	// SenderLocalpart is the reserved localpart of the bridge bot
	// user. The homeserver grants the application service this
	// identity via the sender_localpart registration field.
	SenderLocalpart = "_discord_bot"

	// NamespacePrefix is the reserved prefix for everything the
	// bridge owns on the homeserver: ghost user localparts and
	// bridged room alias localparts.
	NamespacePrefix = "_discord_"

	// Protocol is the third-party network name the bridge serves,
	// used in the registration descriptor and the thirdparty query
	// API.
	Protocol = "discord"
)

// Registration is the application service registration descriptor. The
// same file is installed on the homeserver and loaded by the bridge;
// the two copies must agree or authentication fails in one direction.
type Registration struct {
	// ID uniquely identifies the application service on the
	// homeserver.
	ID string `yaml:"id"`

	// URL is the base URL the homeserver pushes transactions and
	// queries to. Empty disables push (the homeserver treats the
	// service as outbound-only).
	URL string `yaml:"url,omitempty"`

	// ASToken authenticates the bridge's calls to the homeserver.
	ASToken string `yaml:"as_token"`

	// HSToken authenticates the homeserver's calls to the bridge.
	HSToken string `yaml:"hs_token"`

	// SenderLocalpart is the localpart of the bridge bot user.
	SenderLocalpart string `yaml:"sender_localpart"`

	// Namespaces declares which user IDs and room aliases the
	// service owns.
	Namespaces Namespaces `yaml:"namespaces"`

	// RateLimited disables homeserver rate limiting for the service
	// and its ghosts when false. Bridges relay bursty traffic and
	// always run unlimited.
	RateLimited bool `yaml:"rate_limited"`

	// Protocols lists the third-party networks reachable through
	// this service.
	Protocols []string `yaml:"protocols,omitempty"`
}

// Namespaces groups the ownership patterns by entity kind.
type Namespaces struct {
	Users   []Namespace `yaml:"users,omitempty"`
	Aliases []Namespace `yaml:"aliases,omitempty"`
	Rooms   []Namespace `yaml:"rooms,omitempty"`
}

// Namespace is a single ownership pattern. Exclusive namespaces are
// reserved for this service alone; the homeserver rejects other
// registrations and ordinary users claiming matching identifiers.
type Namespace struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

// Match reports whether s falls inside the namespace. The pattern is
// anchored on both ends, so a namespace over "@_discord_.*" does not
// match a mere substring. Patterns are validated at load time; an
// uncompilable pattern matches nothing.
func (n Namespace) Match(s string) bool {
	re, err := regexp.Compile("^(?:" + n.Regex + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// GenerateConfig carries the caller-supplied parts of a fresh
// registration.
type GenerateConfig struct {
	// URL is the externally reachable base URL of the bridge's
	// appservice listener, carried into the descriptor's url field.
	URL string
}

// GenerateRegistration constructs a fresh registration descriptor with
// three independent random tokens. It has no side effects and no
// caching: every call yields new tokens. Persisting the result is the
// caller's job (see SaveRegistration).
func GenerateRegistration(cfg GenerateConfig) *Registration {
	return &Registration{
		ID:              randomToken(),
		URL:             cfg.URL,
		ASToken:         randomToken(),
		HSToken:         randomToken(),
		SenderLocalpart: SenderLocalpart,
		Namespaces: Namespaces{
			Users: []Namespace{
				{Exclusive: true, Regex: "@" + NamespacePrefix + ".*"},
			},
			Aliases: []Namespace{
				{Exclusive: true, Regex: "#" + NamespacePrefix + ".*"},
			},
		},
		RateLimited: false,
		Protocols:   []string{Protocol},
	}
}

// randomToken returns 32 bytes from the secure random source as hex.
func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read cannot fail as of Go 1.24.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// LoadRegistration reads and validates a registration descriptor. A
// missing, malformed, or invalid file is an error the caller treats as
// fatal: running with a broken registration means either the bridge or
// the homeserver would reject every call from the other.
func LoadRegistration(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registration file: %w", err)
	}

	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing registration file %s: %w", path, err)
	}

	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("validating registration file %s: %w", path, err)
	}
	return &reg, nil
}

// SaveRegistration writes the descriptor as YAML with mode 0600 (it
// contains both credentials). An existing file is not overwritten
// unless force is set.
func SaveRegistration(path string, reg *Registration, force bool) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validating registration: %w", err)
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("registration file %s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking registration file: %w", err)
		}
	}

	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing registration file: %w", err)
	}
	return nil
}

// Validate checks the structural invariants of a descriptor: tokens
// present and pairwise distinct, a sender identity, at least one user
// and one alias namespace, and compilable patterns.
func (r *Registration) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if r.ASToken == "" {
		errs = append(errs, errors.New("as_token is required"))
	}
	if r.HSToken == "" {
		errs = append(errs, errors.New("hs_token is required"))
	}
	if r.ASToken != "" && r.ASToken == r.HSToken {
		errs = append(errs, errors.New("as_token and hs_token must differ"))
	}
	if r.ID != "" && (r.ID == r.ASToken || r.ID == r.HSToken) {
		errs = append(errs, errors.New("id must differ from both tokens"))
	}
	if r.SenderLocalpart == "" {
		errs = append(errs, errors.New("sender_localpart is required"))
	}
	if len(r.Namespaces.Users) == 0 {
		errs = append(errs, errors.New("at least one users namespace is required"))
	}
	if len(r.Namespaces.Aliases) == 0 {
		errs = append(errs, errors.New("at least one aliases namespace is required"))
	}
	for _, group := range []struct {
		kind    string
		entries []Namespace
	}{
		{"users", r.Namespaces.Users},
		{"aliases", r.Namespaces.Aliases},
		{"rooms", r.Namespaces.Rooms},
	} {
		for _, ns := range group.entries {
			if _, err := regexp.Compile(ns.Regex); err != nil {
				errs = append(errs, fmt.Errorf("%s namespace pattern %q: %w", group.kind, ns.Regex, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Fingerprint returns the BLAKE3 digest of the canonical YAML encoding
// of the descriptor, hex encoded. Logged at startup and served over
// the admin socket so operators can compare the bridge's copy against
// the homeserver's without handling the tokens themselves.
func (r *Registration) Fingerprint() string {
	data, err := yaml.Marshal(r)
	if err != nil {
		// Marshalling a plain value struct cannot fail.
		panic(err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BotUserID returns the bridge bot's full Matrix user ID on the given
// homeserver domain.
func (r *Registration) BotUserID(domain string) string {
	return "@" + r.SenderLocalpart + ":" + domain
}

// OwnsUser reports whether the given user ID falls inside any of the
// registration's user namespaces. The gateway uses this for echo
// suppression: events sent by the bridge's own ghosts must not be
// relayed back to Discord.
func (r *Registration) OwnsUser(userID string) bool {
	for _, ns := range r.Namespaces.Users {
		if ns.Match(userID) {
			return true
		}
	}
	return false
}

// OwnsAlias reports whether the given room alias falls inside any of
// the registration's alias namespaces.
func (r *Registration) OwnsAlias(alias string) bool {
	for _, ns := range r.Namespaces.Aliases {
		if ns.Match(alias) {
			return true
		}
	}
	return false
}
