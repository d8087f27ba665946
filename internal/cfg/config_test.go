package cfg

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
http_server_listen_addr = ":8084"
github_webhook_endpoint = "/listener/github/"
database_dsn = "postgres://ghqueue@localhost/ghqueue"
service_url = "https://ghqueue.example.com"
log_format = "logfmt"
log_time_key = "time"
log_level = "info"

[lanes]
high = 2
standard = 4
cron = 1

[[application]]
name = "myapp"
github_api_token = "token123"
github_webhook_secret = "secret456"
modules = ["clean", "automerge"]

[application.module_config.clean]
retention_days = 14

[[lane_rule]]
lane = "lower"
filter_query = '.module == "clean"'
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8084", config.HTTPListenAddr)
	assert.Equal(t, "/listener/github/", config.GithubWebhookEndpoint)
	assert.Equal(t, "postgres://ghqueue@localhost/ghqueue", config.DatabaseDSN)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.Equal(t, map[string]int{"high": 2, "standard": 4, "cron": 1}, config.Lanes)

	require.Len(t, config.Applications, 1)
	app := config.Applications[0]
	assert.Equal(t, "myapp", app.Name)
	assert.Equal(t, "token123", app.GithubAPIToken)
	assert.Equal(t, "secret456", app.GithubWebHookSecret)
	assert.Equal(t, []string{"clean", "automerge"}, app.Modules)

	require.Contains(t, app.ModuleConfig, "clean")
	assert.EqualValues(t, 14, app.ModuleConfig["clean"]["retention_days"])

	require.Len(t, config.LaneRules, 1)
	assert.Equal(t, "lower", config.LaneRules[0].Lane)
	assert.Equal(t, `.module == "clean"`, config.LaneRules[0].FilterQuery)
}

func TestLoadRejectsUnnamedApplication(t *testing.T) {
	_, err := Load(strings.NewReader(`
[[application]]
github_api_token = "token"
`))

	assert.ErrorContains(t, err, "without a name")
}

func TestLoadRejectsDuplicateApplications(t *testing.T) {
	_, err := Load(strings.NewReader(`
[[application]]
name = "app"

[[application]]
name = "app"
`))

	assert.ErrorContains(t, err, "multiple times")
}

func TestLoadRejectsIncompleteLaneRule(t *testing.T) {
	_, err := Load(strings.NewReader(`
[[lane_rule]]
lane = "lower"
`))

	assert.ErrorContains(t, err, "lane_rule")
}

func TestApplicationLookup(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.NotNil(t, config.Application("myapp"))
	assert.Nil(t, config.Application("unknown"))
}

func TestMarshalRoundTrip(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, config.Marshal(&buf))

	got, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, config.Applications[0].Name, got.Applications[0].Name)
	assert.Equal(t, config.Lanes, got.Lanes)
}
