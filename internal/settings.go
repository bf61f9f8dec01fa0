package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"pullplatypus/pkg/notify"
	"pullplatypus/pkg/storage"
	"pullplatypus/pkg/storage/params"
)

// Parameter and environment variable names for the runtime settings.
const (
	ParamIdentityMap   = "BITBUCKET_TO_SLACK_MAP"
	ParamWebhookURL    = "WEBHOOK_URL"
	ParamWebhookSecret = "WEBHOOK_SECRET"
	// EnvParamsPath overrides params.path.
	EnvParamsPath = "SSM_PATH"
)

// Settings are the values the webhook handler and Slack sender need at runtime.
type Settings struct {
	WebhookURL string
	Secret     string
	Identities notify.IdentityMap
}

// ResolveSettings layers the config file, the environment and the parameter
// store, later sources winning. store may be nil when no parameter path is
// configured. getenv defaults to os.Getenv.
func ResolveSettings(ctx context.Context, cfg Config, store storage.ParameterStore, getenv func(string) string) (Settings, error) {
	raw, err := collectSettings(ctx, cfg, store, getenv)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{WebhookURL: raw.url, Secret: raw.secret}
	merged := make(map[string]string, len(raw.identities))
	for source, target := range raw.identities {
		merged[source] = target
	}
	if raw.identitiesJSON != "" {
		parsed, err := notify.ParseIdentityMap([]byte(raw.identitiesJSON))
		if err != nil {
			return Settings{}, err
		}
		for source, target := range parsed.Entries() {
			merged[source] = target
		}
	}
	settings.Identities = notify.NewIdentityMap(merged)

	var missing []string
	if settings.WebhookURL == "" {
		missing = append(missing, ParamWebhookURL)
	}
	if settings.Secret == "" {
		missing = append(missing, ParamWebhookSecret)
	}
	if raw.identities == nil && raw.identitiesJSON == "" {
		missing = append(missing, ParamIdentityMap)
	}
	if len(missing) > 0 {
		return Settings{}, errors.New("missing settings: " + strings.Join(missing, ", "))
	}
	return settings, nil
}

// ResolveWebhookURL is ResolveSettings for processes that only send to Slack.
func ResolveWebhookURL(ctx context.Context, cfg Config, store storage.ParameterStore, getenv func(string) string) (string, error) {
	raw, err := collectSettings(ctx, cfg, store, getenv)
	if err != nil {
		return "", err
	}
	if raw.url == "" {
		return "", errors.New("missing settings: " + ParamWebhookURL)
	}
	return raw.url, nil
}

type rawSettings struct {
	url            string
	secret         string
	identities     map[string]string
	identitiesJSON string
}

func collectSettings(ctx context.Context, cfg Config, store storage.ParameterStore, getenv func(string) string) (rawSettings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := rawSettings{
		url:            cfg.Slack.WebhookURL,
		secret:         cfg.Bitbucket.Secret,
		identities:     cfg.Slack.IdentityMap,
		identitiesJSON: cfg.Slack.IdentityMapJSON,
	}
	overlay := func(values func(string) string) {
		if v := values(ParamWebhookURL); v != "" {
			raw.url = v
		}
		if v := values(ParamWebhookSecret); v != "" {
			raw.secret = v
		}
		if v := values(ParamIdentityMap); v != "" {
			raw.identitiesJSON = v
		}
	}
	overlay(getenv)

	if path := ParamsPath(cfg, getenv); path != "" {
		if store == nil {
			return raw, fmt.Errorf("parameter path %s configured without a parameter store", path)
		}
		values, err := store.GetParametersByPath(ctx, path)
		if err != nil {
			return raw, fmt.Errorf("load parameters %s: %w", path, err)
		}
		overlay(func(name string) string { return values[name] })
	}

	raw.url = strings.TrimSpace(raw.url)
	raw.identitiesJSON = strings.TrimSpace(raw.identitiesJSON)
	return raw, nil
}

// OpenParamStore opens the parameter store when a parameter path is set.
// It returns nil, nil otherwise.
func OpenParamStore(cfg Config, getenv func(string) string) (storage.ParameterStore, error) {
	if ParamsPath(cfg, getenv) == "" {
		return nil, nil
	}
	store, err := params.Open(params.Config{
		Driver:      cfg.Params.Driver,
		DSN:         cfg.Params.DSN,
		Table:       cfg.Params.Table,
		AutoMigrate: cfg.Params.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("open parameter store: %w", err)
	}
	return store, nil
}

// ParamsPath returns the parameter store path, preferring the environment.
func ParamsPath(cfg Config, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvParamsPath)); v != "" {
		return v
	}
	return strings.TrimSpace(cfg.Params.Path)
}
