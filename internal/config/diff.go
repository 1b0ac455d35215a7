package config

import (
	"reflect"
	"sort"
	"strings"

	logx "amd/pkg/logx"
)

// HotSections can be applied without a restart.
var HotSections = map[string]bool{"logging": true}

// ChangedSections returns the sorted top-level sections that differ and
// safe attrs for logging them. Tokens are never included.
func ChangedSections(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Discord.RolesMessageID != newCfg.Discord.RolesMessageID ||
		!reflect.DeepEqual(oldCfg.Discord.OwnerIDs, newCfg.Discord.OwnerIDs) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.Int("discord.owner_count", len(newCfg.Discord.OwnerIDs)),
		)
	}
	if oldCfg.Channels != newCfg.Channels {
		changed = append(changed, "channels")
	}
	if !reflect.DeepEqual(oldCfg.ReactionRoles, newCfg.ReactionRoles) {
		changed = append(changed, "reaction_roles")
		attrs = append(attrs, logx.Int("reaction_roles.count", len(newCfg.ReactionRoles)))
	}
	if !reflect.DeepEqual(oldCfg.StatusUpdate, newCfg.StatusUpdate) {
		changed = append(changed, "status_update")
		attrs = append(attrs,
			logx.String("status_update.interval", strings.TrimSpace(newCfg.StatusUpdate.Interval)),
			logx.Bool("status_update.enabled", newCfg.StatusUpdate.IsEnabled()),
		)
	}
	if oldCfg.Roster != newCfg.Roster {
		changed = append(changed, "roster")
	}
	if oldCfg.Exclusions != newCfg.Exclusions {
		changed = append(changed, "exclusions")
	}
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
	}

	if nl := newCfg.Logging; oldCfg.Logging != nl {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(nS.Driver)))
	}

	var oD, nD DebugConfig
	if oldCfg.Debug != nil {
		oD = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nD = *newCfg.Debug
	}
	if oD != nD {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.String("debug.addr", nD.Addr), logx.Bool("debug.token_set", nD.Token != ""))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to the sections that are not hot.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
