package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/errors"
)

func TestParseInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "24h", want: 24 * time.Hour},
		{raw: " 90m ", want: 90 * time.Minute},
		{raw: "24:00", want: 24 * time.Hour},
		{raw: "00:30", want: 30 * time.Minute},
		{raw: "@every 24h", want: 24 * time.Hour},
		{raw: "@every 1h30m", want: 90 * time.Minute},
		{raw: "", wantErr: true},
		{raw: "0s", wantErr: true},
		{raw: "-5m", wantErr: true},
		{raw: "00:00", wantErr: true},
		{raw: "10:75", wantErr: true},
		{raw: "@daily", wantErr: true},
		{raw: "0 9 * * *", wantErr: true},
		{raw: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseInterval("status_update.interval", tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnowflakeAcceptsStringAndNumber(t *testing.T) {
	t.Parallel()
	var v struct {
		A Snowflake `json:"a"`
		B Snowflake `json:"b"`
		C Snowflake `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1234567890123456789","b":1234567890123456789,"c":null}`), &v))
	assert.Equal(t, Snowflake("1234567890123456789"), v.A)
	assert.Equal(t, Snowflake("1234567890123456789"), v.B)
	assert.Equal(t, Snowflake(""), v.C)

	assert.True(t, v.A.Valid())
	assert.False(t, Snowflake("0").Valid())
	assert.False(t, Snowflake("12a").Valid())
	assert.False(t, Snowflake("").Valid())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

const tomlConfig = `
[discord]
token = "file-token"
guild_id = 1234567890123456789
owner_ids = [42]
roles_message_id = "1111"

[channels]
status_update = 2222

[[reaction_roles]]
emoji = "📁"
role_id = 3333

[[reaction_roles]]
emoji = "🚀"
role_id = 4444

[status_update]
interval = "24:00"
timezone = "Asia/Kolkata"

[logging]
level = "debug"
console = true
`

const yamlConfig = `
discord:
  token: file-token
  guild_id: 1234567890123456789
  owner_ids: [42]
  roles_message_id: "1111"
channels:
  status_update: 2222
reaction_roles:
  - emoji: "📁"
    role_id: 3333
  - emoji: "🚀"
    role_id: 4444
status_update:
  interval: "24:00"
  timezone: Asia/Kolkata
logging:
  level: debug
  console: true
`

const jsonConfig = `{
  "discord": {"token": "file-token", "guild_id": "1234567890123456789", "owner_ids": ["42"], "roles_message_id": "1111"},
  "channels": {"status_update": "2222"},
  "reaction_roles": [{"emoji": "📁", "role_id": "3333"}, {"emoji": "🚀", "role_id": "4444"}],
  "status_update": {"interval": "24:00", "timezone": "Asia/Kolkata"},
  "logging": {"level": "debug", "console": true}
}`

func TestParseFormats(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"amd.toml": tomlConfig,
		"amd.yaml": yamlConfig,
		"amd.json": jsonConfig,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, name, body))
			m.SetEnv(noEnv)

			cfg, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, "file-token", cfg.Discord.Token)
			assert.Equal(t, Snowflake("1234567890123456789"), cfg.Discord.GuildID)
			assert.Equal(t, []Snowflake{"42"}, cfg.Discord.OwnerIDs)
			assert.Equal(t, Snowflake("2222"), cfg.Channels.StatusUpdate)
			assert.Equal(t, map[string]string{"📁": "3333", "🚀": "4444"}, cfg.ReactionRoleMap())
			assert.True(t, cfg.StatusUpdate.IsEnabled())
			assert.Equal(t, DefaultPrefix, cfg.Prefix())
			assert.Equal(t, "debug", cfg.LogxConfig().Level)
			assert.Same(t, cfg, m.Get())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "amd.json", `{"discord":{"token":"x"},"plugins":{}}`))
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "amd.json", `{"discord":{"token":"x"}}{"discord":{}}`))
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "nope.toml"))
	_, err := m.Load()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	assert.Nil(t, m.Get())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{"DISCORD_TOKEN": " env-token ", "OWNER_ID": "77"}
	getenv := func(k string) string { return env[k] }

	cfg := &Config{Discord: DiscordConfig{Token: "file", OwnerIDs: []Snowflake{"42"}}}
	ApplyEnv(cfg, getenv)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, []Snowflake{"42", "77"}, cfg.Discord.OwnerIDs)

	ApplyEnv(cfg, getenv)
	assert.Equal(t, []Snowflake{"42", "77"}, cfg.Discord.OwnerIDs, "owner id added once")
}

func TestLoadUsesEnvToken(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "amd.json",
		`{"discord":{},"channels":{"status_update":"2222"},"status_update":{"interval":"24h"}}`))
	m.SetEnv(func(k string) string {
		if k == "DISCORD_TOKEN" {
			return "env-token"
		}
		return ""
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
}

func validConfig() *Config {
	return &Config{
		Discord:      DiscordConfig{Token: "t"},
		Channels:     ChannelsConfig{StatusUpdate: "2222"},
		StatusUpdate: StatusUpdateConfig{Interval: "24h"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "minimal", mutate: func(*Config) {}, ok: true},
		{name: "no token", mutate: func(c *Config) { c.Discord.Token = " " }},
		{name: "bad owner", mutate: func(c *Config) { c.Discord.OwnerIDs = []Snowflake{"me"} }},
		{name: "bad interval", mutate: func(c *Config) { c.StatusUpdate.Interval = "@daily" }},
		{name: "bad timezone", mutate: func(c *Config) { c.StatusUpdate.Timezone = "Mars/Olympus" }},
		{name: "missing channel", mutate: func(c *Config) { c.Channels.StatusUpdate = "" }},
		{name: "disabled job skips channel", mutate: func(c *Config) {
			c.StatusUpdate.Enabled = &off
			c.Channels.StatusUpdate = ""
			c.StatusUpdate.Interval = ""
		}, ok: true},
		{name: "duplicate emoji", mutate: func(c *Config) {
			c.ReactionRoles = []ReactionRole{{Emoji: "🤖", RoleID: "1"}, {Emoji: "🤖", RoleID: "2"}}
		}},
		{name: "roster url", mutate: func(c *Config) { c.Roster.URL = "ftp://example.org" }},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }},
		{name: "telegram without chat", mutate: func(c *Config) {
			c.Logging.Telegram = LoggingTelegram{Enabled: true, Token: "x"}
		}},
		{name: "storage driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }},
		{name: "debug addr", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: "6060"} }},
		{name: "sqlite storage", mutate: func(c *Config) {
			c.Storage = &StorageConfig{Driver: "sqlite", Path: "amd.db", BusyTimeout: "5s"}
		}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Discord.Token = ""
	cfg.Logging.Level = "loud"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
	// CombineErrors keeps later problems as secondary errors, shown by %+v.
	assert.Contains(t, fmt.Sprintf("%+v", err), "logging.level")
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Logging.Level = "debug"
	newCfg.StatusUpdate.Interval = "12h"

	changed, attrs := ChangedSections(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "status_update"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"status_update"}, RestartRequired(changed))

	changed, _ = ChangedSections(oldCfg, validConfig())
	assert.Empty(t, changed)
}

func TestSubscribeLatestWins(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)

	first, second := validConfig(), validConfig()
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "amd.json", `{"discord":{"token":"a"},"channels":{"status_update":"2222"},"status_update":{"interval":"24h"}}`)
	m := NewManager(path)
	m.SetEnv(noEnv)
	m.wait = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid configs are never published.
	require.NoError(t, os.WriteFile(path, []byte(`{"discord":{"token":""}}`), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, "a", m.Get().Discord.Token)

	require.NoError(t, os.WriteFile(path,
		[]byte(`{"discord":{"token":"b"},"channels":{"status_update":"2222"},"status_update":{"interval":"24h"}}`), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, "b", cfg.Discord.Token)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	cancel()
	<-done
}

func TestWatchBackoffIsJitteredAndCapped(t *testing.T) {
	t.Parallel()
	w := &fileWatch{backoff: watchBackoffMin}
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		base := w.backoff
		d := w.nextBackoff()
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
		assert.GreaterOrEqual(t, w.backoff, prev)
		prev = w.backoff
	}
	assert.Equal(t, watchBackoffMax, w.backoff)
}
