package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

// StaticKeys is an in-memory IdentityStore over fixed API keys.
type StaticKeys struct {
	principals map[string]*Principal
}

// ParseStaticKeys builds a store from comma-separated key=role pairs,
// e.g. "k-ops-1=operator,k-dash=viewer".
func ParseStaticKeys(raw string) (*StaticKeys, error) {
	store := &StaticKeys{principals: make(map[string]*Principal)}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, role, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		role = strings.TrimSpace(role)
		if !found || key == "" || role == "" {
			return nil, faults.Configuration("api key entries must be key=role pairs")
		}
		if !Role(role).IsValid() {
			return nil, faults.Configuration(fmt.Sprintf("unknown api key role %q", role))
		}
		if _, dup := store.principals[key]; dup {
			return nil, faults.Configuration("duplicate api key " + keyName(key))
		}
		store.principals[key] = &Principal{
			Name: keyName(key),
			Role: Role(role),
		}
	}
	return store, nil
}

// Len reports how many keys the store holds.
func (s *StaticKeys) Len() int { return len(s.principals) }

func (s *StaticKeys) Lookup(_ context.Context, credential string) (*Principal, bool) {
	p, ok := s.principals[credential]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// keyName is the loggable identity of a key: its last four characters.
func keyName(key string) string {
	if len(key) <= 4 {
		return "key-****"
	}
	return "key-" + key[len(key)-4:]
}

// KeyGate authenticates by exact credential match against an identity
// store.
type KeyGate struct {
	store IdentityStore
}

// NewKeyGate wraps the store in a Gate.
func NewKeyGate(store IdentityStore) *KeyGate {
	return &KeyGate{store: store}
}

func (g *KeyGate) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, faults.Authentication("missing API key")
	}
	p, ok := g.store.Lookup(ctx, credential)
	if !ok {
		return nil, faults.Authentication("invalid API key")
	}
	return p, nil
}

func (g *KeyGate) Authorize(principal *Principal, permission Permission) bool {
	return principal.Can(permission)
}

// FromEnv builds the gate for the server: a KeyGate over the keys in
// the configured environment variable, or an OpenGate when none are
// set in development. Production refuses to start without keys.
func FromEnv(cfg *config.ServerConfig) (Gate, error) {
	raw := os.Getenv(cfg.APIKeysEnv)
	store, err := ParseStaticKeys(raw)
	if err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		if cfg.Environment.IsDevelopment() {
			slog.Warn("No API keys configured, serving unauthenticated",
				"env_var", cfg.APIKeysEnv)
			return OpenGate{}, nil
		}
		return nil, faults.Configuration(
			fmt.Sprintf("no API keys in %s; required outside development", cfg.APIKeysEnv))
	}
	return NewKeyGate(store), nil
}
