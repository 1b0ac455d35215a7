package app

import (
	"strings"
	"time"

	"amd/internal/config"
	"amd/internal/errors"
	"amd/internal/exclusions"
	"amd/internal/jobs/statusupdate"
	"amd/internal/roster"
	"amd/internal/scheduler"
	"amd/internal/storage"
	logx "amd/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.Configuration("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, errors.Configuration("unknown storage.driver: %s", sc.Driver)
	}
}

// buildRegistry assembles the fixed job set. Any error is fatal at startup.
func buildRegistry(cfg *config.Config, rc *roster.Client, excl *exclusions.Store, log logx.Logger) (*scheduler.Registry, error) {
	var jobs []scheduler.Job

	if su := cfg.StatusUpdate; su.IsEnabled() {
		interval, err := config.ParseInterval("status_update.interval", su.Interval)
		if err != nil {
			return nil, err
		}
		loc, err := config.LoadLocation(su.Timezone)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "status_update.timezone"), errors.KindConfiguration)
		}
		jobs = append(jobs, statusupdate.New(statusupdate.Config{
			Interval:          interval,
			StatusChannelID:   cfg.Channels.StatusUpdate.String(),
			ReminderChannelID: cfg.Channels.Reminder.String(),
			Location:          loc,
			Embed: statusupdate.EmbedConfig{
				TitleURL:  su.TitleURL,
				ImageURL:  su.ImageURL,
				AuthorURL: su.AuthorURL,
				IconURL:   su.IconURL,
			},
		}, rc, excl, log))
	} else {
		log.Info("status update job disabled")
	}

	return scheduler.NewRegistry(jobs...)
}
