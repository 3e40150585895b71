package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/transport"
)

// restoredTransport rebuilds a transport from ~/.crosstalk/credentials.json.
// The client commands (send, receive, agents, whoami) act as whichever agent
// last created or joined a team on this machine.
func restoredTransport() (transport.Transport, error) {
	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("not in a team; run 'crosstalk team create' or 'crosstalk team join' first")
	}
	tr, err := transport.FromConfig(creds)
	if err != nil {
		return nil, err
	}
	if !tr.IsConfigured() {
		tr.Close()
		return nil, fmt.Errorf("saved credentials are incomplete; run 'crosstalk team join' again")
	}
	return tr, nil
}

// newClientTransport builds an unconfigured transport from the team flags,
// falling back to environment variables and the config file for the
// endpoint. Used by team create and team join before credentials exist.
func newClientTransport(cfg config.Config) (transport.Transport, error) {
	kind := teamTransport
	if kind == "" {
		kind = os.Getenv("CROSSTALK_TRANSPORT")
	}
	if kind == "" {
		kind = cfg.Transport.Kind
	}
	if kind == "" {
		kind = transport.KindHub
	}

	endpoint := teamEndpoint
	if endpoint == "" {
		switch kind {
		case transport.KindRelay:
			if v := os.Getenv("CROSSTALK_RELAY_URL"); v != "" {
				endpoint = v
			} else {
				endpoint = cfg.Transport.RelayURL
			}
		default:
			if v := os.Getenv("CROSSTALK_HUB_URL"); v != "" {
				endpoint = v
			} else {
				endpoint = cfg.Transport.HubURL
			}
		}
	}

	conf := map[string]string{"transport": kind}
	if endpoint != "" {
		conf["endpoint"] = endpoint
	}
	return transport.FromConfig(conf)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
