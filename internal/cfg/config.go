package cfg

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml"
)

type Config struct {
	HTTPListenAddr        string         `toml:"http_server_listen_addr"`
	HTTPSListenAddr       string         `toml:"https_server_listen_addr"`
	HTTPSCertFile         string         `toml:"https_ssl_cert_file"`
	HTTPSKeyFile          string         `toml:"https_ssl_key_file"`
	GithubWebhookEndpoint string         `toml:"github_webhook_endpoint"`
	DatabaseDSN           string         `toml:"database_dsn"`
	ServiceURL            string         `toml:"service_url"`
	LogFormat             string         `toml:"log_format"`
	LogTimeKey            string         `toml:"log_time_key"`
	LogLevel              string         `toml:"log_level"`
	Lanes                 map[string]int `toml:"lanes"`
	Applications          []*Application `toml:"application"`
	LaneRules             []*LaneRule    `toml:"lane_rule"`
}

// Application describes one installed GitHub App and the modules that
// are enabled for it.
type Application struct {
	Name                string                    `toml:"name"`
	GithubAPIToken      string                    `toml:"github_api_token"`
	GithubWebHookSecret string                    `toml:"github_webhook_secret"`
	Modules             []string                  `toml:"modules"`
	ModuleConfig        map[string]map[string]any `toml:"module_config"`
}

// LaneRule assigns jobs matching a gojq filter query to a lane.
// The query is evaluated on an object with the fields event_name,
// module_event_name and module.
type LaneRule struct {
	Lane        string `toml:"lane"`
	FilterQuery string `toml:"filter_query"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) validate() error {
	seen := map[string]struct{}{}

	for _, app := range c.Applications {
		if app.Name == "" {
			return fmt.Errorf("application block without a name")
		}

		if _, exist := seen[app.Name]; exist {
			return fmt.Errorf("application %q is defined multiple times", app.Name)
		}

		seen[app.Name] = struct{}{}
	}

	for _, rule := range c.LaneRules {
		if rule.Lane == "" || rule.FilterQuery == "" {
			return fmt.Errorf("lane_rule blocks require both lane and filter_query")
		}
	}

	return nil
}

// Application returns the configuration block of the named application
// or nil if it is not defined.
func (c *Config) Application(name string) *Application {
	for _, app := range c.Applications {
		if app.Name == name {
			return app
		}
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
