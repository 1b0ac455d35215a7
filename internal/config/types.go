package config

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Config struct {
	Discord       DiscordConfig      `json:"discord"`
	Channels      ChannelsConfig     `json:"channels"`
	ReactionRoles []ReactionRole     `json:"reaction_roles,omitempty"`
	StatusUpdate  StatusUpdateConfig `json:"status_update"`
	Roster        RosterConfig       `json:"roster"`
	Exclusions    ExclusionsConfig   `json:"exclusions"`
	Commands      CommandsConfig     `json:"commands"`
	Logging       LoggingConfig      `json:"logging"`
	Storage       *StorageConfig     `json:"storage,omitempty"`
	Debug         *DebugConfig       `json:"debug,omitempty"`
}

type DiscordConfig struct {
	// Token may be left empty and supplied through DISCORD_TOKEN.
	Token    string      `json:"token"`
	GuildID  Snowflake   `json:"guild_id,omitempty"`
	OwnerIDs []Snowflake `json:"owner_ids,omitempty"`
	// RolesMessageID is the message members react on to pick roles.
	RolesMessageID Snowflake `json:"roles_message_id,omitempty"`
}

type ChannelsConfig struct {
	StatusUpdate Snowflake `json:"status_update"`
	// Reminder defaults to StatusUpdate.
	Reminder Snowflake `json:"reminder,omitempty"`
}

type ReactionRole struct {
	Emoji  string    `json:"emoji"`
	RoleID Snowflake `json:"role_id"`
}

// StatusUpdateConfig drives the daily status-update check.
//
// Interval accepts a Go duration ("24h"), HH:MM ("24:00") or "@every 24h".
type StatusUpdateConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval"`
	Timezone string `json:"timezone,omitempty"`

	TitleURL  string `json:"title_url,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	AuthorURL string `json:"author_url,omitempty"`
	IconURL   string `json:"icon_url,omitempty"`
}

// IsEnabled defaults to true when the flag is omitted.
func (s StatusUpdateConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type RosterConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type ExclusionsConfig struct {
	Path string `json:"path,omitempty"`
}

type CommandsConfig struct {
	Prefix  string `json:"prefix,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the audit store.
//
//	"storage": { "driver": "sqlite", "path": "./data/amd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /debug/pprof).
// A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Snowflake is a Discord id. It accepts both a JSON string and a bare integer
// so TOML/YAML files can keep ids unquoted.
type Snowflake string

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Snowflake(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Snowflake(n.String())
	return nil
}

func (s Snowflake) String() string { return string(s) }

// Valid reports whether s is a positive decimal id.
func (s Snowflake) Valid() bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return strings.Trim(string(s), "0") != ""
}
