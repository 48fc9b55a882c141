// Package auth guards the question endpoints with static API keys.
package auth

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the client an API key belongs to.
type Identity struct {
	Client string
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses a comma separated list of key:client
// entries. A bare key is accepted and named after its position.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for i, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		key, client, found := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		client = strings.TrimSpace(client)
		if key == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key", entry)
		}
		if found && client == "" {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:client", entry)
		}
		if strings.Contains(client, ":") {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:client", entry)
		}
		if !found {
			client = fmt.Sprintf("client-%d", i+1)
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("duplicate static key for client %q", client)
		}
		validator.keys[key] = Identity{Client: client}
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Len() int { return len(v.keys) }

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
