package transport

import (
	"fmt"
	"strings"
)

// HubConfig is the canonical configuration of the hub transport.
type HubConfig struct {
	Endpoint  string
	APIKey    string
	AgentName string
	TeamID    string
}

// RelayConfig is the canonical configuration of the relay transport.
// TeamTag doubles as the team credential; SecretKey is the hex seed of
// the agent's signing key.
type RelayConfig struct {
	Endpoint  string
	TeamTag   string
	AgentName string
	SecretKey string
}

// pick returns the first non-empty value among the given keys.
func pick(conf map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := conf[k]; v != "" {
			return v
		}
	}
	return ""
}

// HubConfigFromMap translates external field names into the canonical hub
// config. Callers use different vocabularies for the same fields (CLI
// flags, persisted credentials, tool arguments), so each canonical field
// lists its accepted aliases explicitly.
func HubConfigFromMap(conf map[string]string) HubConfig {
	return HubConfig{
		Endpoint:  pick(conf, "endpoint", "url", "hubUrl", "hub_url", "baseUrl"),
		APIKey:    pick(conf, "apiKey", "api_key", "key", "token"),
		AgentName: pick(conf, "agentName", "agent_name", "name"),
		TeamID:    pick(conf, "teamId", "team_id", "team"),
	}
}

// RelayConfigFromMap translates external field names into the canonical
// relay config. A hub-style "apiKey" is accepted as the team tag so that
// join flows can pass credentials without knowing the transport kind.
func RelayConfigFromMap(conf map[string]string) RelayConfig {
	return RelayConfig{
		Endpoint:  pick(conf, "endpoint", "url", "relayUrl", "relay_url"),
		TeamTag:   pick(conf, "teamTag", "team_tag", "tag", "apiKey", "api_key", "teamId"),
		AgentName: pick(conf, "agentName", "agent_name", "name"),
		SecretKey: pick(conf, "secretKey", "secret_key", "privateKey", "private_key"),
	}
}

// FromConfig builds the transport named by conf["transport"] and applies
// the remaining keys to it. An absent kind defaults to the hub.
func FromConfig(conf map[string]string) (Transport, error) {
	kind := conf["transport"]
	if kind == "" {
		kind = KindHub
	}

	var tr Transport
	switch kind {
	case KindHub:
		tr = NewHubTransport()
	case KindRelay:
		tr = NewRelayTransport()
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
	if err := tr.Configure(conf); err != nil {
		return nil, err
	}
	return tr, nil
}

// trimEndpoint normalizes a base URL so paths can be appended directly.
func trimEndpoint(url string) string {
	return strings.TrimRight(url, "/")
}

// setNonEmpty copies src into dst only for keys whose value is non-empty.
func setNonEmpty(dst map[string]string, key, value string) {
	if value != "" {
		dst[key] = value
	}
}
