// Package statusupdate implements the daily status-update check: remind
// members who have not posted today and report everyone's state back to the
// roster API.
package statusupdate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"amd/internal/appstate"
	"amd/internal/errors"
	"amd/internal/roster"
	"amd/internal/transport"
	logx "amd/pkg/logx"
)

const DefaultName = "status-update"

type Roster interface {
	Members(ctx context.Context) ([]roster.Member, error)
	ReportStatus(ctx context.Context, id int64, sent bool) error
}

type Exclusions interface {
	Set() (map[uint64]struct{}, error)
}

type EmbedConfig struct {
	TitleURL  string
	ImageURL  string
	AuthorURL string
	IconURL   string
}

type Config struct {
	Name     string
	Interval time.Duration
	// StatusChannelID is where members post their updates.
	StatusChannelID string
	// ReminderChannelID receives the reminder; defaults to StatusChannelID.
	ReminderChannelID string
	// Location defines "today". Defaults to UTC.
	Location *time.Location
	Embed    EmbedConfig
}

type Job struct {
	cfg    Config
	roster Roster
	excl   Exclusions
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, r Roster, excl Exclusions, log logx.Logger) *Job {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultName
	}
	if cfg.ReminderChannelID == "" {
		cfg.ReminderChannelID = cfg.StatusChannelID
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, roster: r, excl: excl, log: log.With(logx.Comp("job.statusupdate")), now: time.Now}
}

func (j *Job) Name() string            { return j.cfg.Name }
func (j *Job) Interval() time.Duration { return j.cfg.Interval }

func (j *Job) Run(ctx context.Context, st *appstate.State) error {
	if st == nil || st.Platform == nil {
		return errors.Configuration("status update: no messaging platform")
	}
	excluded, err := j.excl.Set()
	if err != nil {
		return errors.Wrap(err, "load exclusions")
	}
	members, err := j.roster.Members(ctx)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		j.log.Info("roster is empty, nothing to do")
		return nil
	}

	since := StartOfDay(j.now(), j.cfg.Location)
	posted, err := st.Platform.AuthorsSince(ctx, j.cfg.StatusChannelID, since)
	if err != nil {
		return err
	}

	t := ComputeTargets(members, excluded, posted)
	if t.Skipped > 0 {
		j.log.Warn("roster entries without a discord id", logx.Int("count", t.Skipped))
	}

	var errs error
	if len(t.Remind) > 0 {
		if _, err := st.Platform.SendMessage(ctx, j.cfg.ReminderChannelID, BuildReminder(t.Remind, j.cfg.Embed)); err != nil {
			errs = errors.CombineErrors(errs, errors.WithMessage(err, "send reminder"))
		}
	}

	failed := 0
	for _, r := range t.Reports {
		if err := j.roster.ReportStatus(ctx, r.Member.ID, r.Sent); err != nil {
			failed++
			errs = errors.CombineErrors(errs, err)
		}
	}

	j.log.Info("status update check done",
		logx.Int("members", len(members)),
		logx.Int("excluded", len(excluded)),
		logx.Int("reminded", len(t.Remind)),
		logx.Int("reported", len(t.Reports)-failed),
		logx.Int("report_failures", failed),
	)
	return errs
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// BuildReminder mentions every target in one message.
func BuildReminder(targets []roster.Member, emb EmbedConfig) transport.OutgoingMessage {
	mentions := make([]string, 0, len(targets))
	names := make([]string, 0, len(targets))
	for _, m := range targets {
		mentions = append(mentions, "<@"+m.DiscordID+">")
		name := m.Name
		if name == "" {
			name = m.DiscordID
		}
		names = append(names, "• "+name)
	}

	msg := transport.OutgoingMessage{
		Content: fmt.Sprintf("%s\nYou haven't sent your status update for today yet.", strings.Join(mentions, " ")),
	}
	if emb != (EmbedConfig{}) {
		msg.Embed = &transport.Embed{
			Title:       "Status Update Reminder",
			URL:         emb.TitleURL,
			Description: fmt.Sprintf("%d member(s) still need to post:\n%s", len(targets), strings.Join(names, "\n")),
			ImageURL:    emb.ImageURL,
			AuthorName:  "amD",
			AuthorURL:   emb.AuthorURL,
			IconURL:     emb.IconURL,
		}
	}
	return msg
}
