package config

import (
	"net"
	"net/url"
	"strings"
	"time"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

const DefaultPrefix = "$"

// ApplyEnv overlays secrets and owner ids from the environment.
// DISCORD_TOKEN replaces discord.token; OWNER_ID is added to discord.owner_ids.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if tok := strings.TrimSpace(getenv("DISCORD_TOKEN")); tok != "" {
		cfg.Discord.Token = tok
	}
	if owner := Snowflake(strings.TrimSpace(getenv("OWNER_ID"))); owner != "" {
		for _, id := range cfg.Discord.OwnerIDs {
			if id == owner {
				return
			}
		}
		cfg.Discord.OwnerIDs = append(cfg.Discord.OwnerIDs, owner)
	}
}

// Validate rejects configs the daemon must not start with. Every problem is
// reported, not just the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.Configuration("config is nil")
	}
	var errs error
	add := func(format string, args ...any) {
		errs = errors.CombineErrors(errs, errors.Configuration(format, args...))
	}

	if strings.TrimSpace(cfg.Discord.Token) == "" {
		add("discord.token is empty (set it in the file or via DISCORD_TOKEN)")
	}
	if cfg.Discord.GuildID != "" && !cfg.Discord.GuildID.Valid() {
		add("discord.guild_id: invalid id %q", cfg.Discord.GuildID)
	}
	for i, id := range cfg.Discord.OwnerIDs {
		if !id.Valid() {
			add("discord.owner_ids[%d]: invalid id %q", i, id)
		}
	}
	if cfg.Discord.RolesMessageID != "" && !cfg.Discord.RolesMessageID.Valid() {
		add("discord.roles_message_id: invalid id %q", cfg.Discord.RolesMessageID)
	}

	seen := map[string]bool{}
	for i, rr := range cfg.ReactionRoles {
		if strings.TrimSpace(rr.Emoji) == "" {
			add("reaction_roles[%d]: emoji is empty", i)
		} else if seen[rr.Emoji] {
			add("reaction_roles[%d]: duplicate emoji %q", i, rr.Emoji)
		}
		seen[rr.Emoji] = true
		if !rr.RoleID.Valid() {
			add("reaction_roles[%d]: invalid role id %q", i, rr.RoleID)
		}
	}

	if cfg.StatusUpdate.IsEnabled() {
		if !cfg.Channels.StatusUpdate.Valid() {
			add("channels.status_update: invalid id %q", cfg.Channels.StatusUpdate)
		}
		if _, err := ParseInterval("status_update.interval", cfg.StatusUpdate.Interval); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		if _, err := LoadLocation(cfg.StatusUpdate.Timezone); err != nil {
			add("status_update.timezone: %v", err)
		}
	}
	if cfg.Channels.Reminder != "" && !cfg.Channels.Reminder.Valid() {
		add("channels.reminder: invalid id %q", cfg.Channels.Reminder)
	}

	if raw := strings.TrimSpace(cfg.Roster.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("roster.url: invalid url %q", raw)
		}
	}
	if _, err := ParseDurationField("roster.timeout", cfg.Roster.Timeout); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := ParseDurationField("commands.timeout", cfg.Commands.Timeout); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if p := cfg.Commands.Prefix; p != "" && strings.TrimSpace(p) != p {
		add("commands.prefix must not contain whitespace")
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}
	if t := cfg.Logging.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
			add("logging.telegram: token and chat_id are required when enabled")
		}
		if t.MinLevel != "" && !logx.ValidLevel(t.MinLevel) {
			add("logging.telegram.min_level: unknown level %q", t.MinLevel)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if d := cfg.Debug; d != nil && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			add("debug.addr: %v", err)
		}
	}
	return errs
}

// LoadLocation resolves a timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Prefix returns the command prefix, defaulting to "$".
func (c *Config) Prefix() string {
	if c.Commands.Prefix == "" {
		return DefaultPrefix
	}
	return c.Commands.Prefix
}

// ReactionRoleMap flattens reaction_roles into emoji -> role id.
func (c *Config) ReactionRoleMap() map[string]string {
	out := make(map[string]string, len(c.ReactionRoles))
	for _, rr := range c.ReactionRoles {
		out[rr.Emoji] = rr.RoleID.String()
	}
	return out
}

// LogxConfig maps the logging section onto the logger's config.
func (c *Config) LogxConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
