package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"amd/internal/errors"
	"amd/internal/eventbus"
	logx "amd/pkg/logx"
)

const (
	replyReady          = "amD is up and running."
	replyMissingUser    = "Please specify a user to toggle exclusion"
	replyInvalidUser    = "Invalid user ID"
	replyExcludedAdded  = "User has been added to the exclusion list"
	replyExcludedRemove = "User has been removed from the exclusion list"

	defaultAuditLimit = 10
	maxAuditLimit     = 50
)

// ExclusionToggled is the payload of exclusion.toggled events.
type ExclusionToggled struct {
	UserID  uint64 `json:"user_id"`
	Added   bool   `json:"added"`
	ActorID string `json:"actor_id"`
}

// LogLevelChanged is the payload of log.level_changed events.
type LogLevelChanged struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
}

func (r *Router) builtins() []Command {
	return []Command{
		{
			Name:        "amdctl",
			Description: "check that the daemon is alive",
			Usage:       "amdctl",
			Access:      AccessEveryone,
			Handle:      r.cmdAmdctl,
		},
		{
			Name:        "help",
			Description: "list commands",
			Usage:       "help",
			Access:      AccessEveryone,
			Handle:      r.cmdHelp,
		},
		{
			Name:        "toggle_exclusion",
			Description: "toggle a member's exclusion from the status update report",
			Usage:       "toggle_exclusion <user_id>",
			Access:      AccessOwnerOnly,
			Handle:      r.cmdToggleExclusion,
		},
		{
			Name:        "set_log_level",
			Description: "change log verbosity at runtime",
			Usage:       "set_log_level <TRACE|DEBUG|INFO|WARN|ERROR>",
			Access:      AccessOwnerOnly,
			Handle:      r.cmdSetLogLevel,
		},
		{
			Name:        "jobs",
			Description: "show scheduled jobs",
			Usage:       "jobs",
			Access:      AccessOwnerOnly,
			Handle:      r.cmdJobs,
		},
		{
			Name:        "audit",
			Description: "show recent operator actions",
			Usage:       fmt.Sprintf("audit [n<=%d]", maxAuditLimit),
			Access:      AccessOwnerOnly,
			Handle:      r.cmdAudit,
		},
	}
}

func (r *Router) cmdAmdctl(ctx context.Context, req *Request) error {
	r.reply(ctx, req, replyReady)
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	lines := []string{"**Commands**"}
	for _, c := range r.Commands() {
		line := "`" + r.prefix + c.Usage + "` " + c.Description
		if c.Access == AccessOwnerOnly {
			line += " (owner)"
		}
		lines = append(lines, line)
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) cmdToggleExclusion(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		r.reply(ctx, req, replyMissingUser)
		return nil
	}
	id, err := strconv.ParseUint(req.Args[0], 10, 64)
	if err != nil || id == 0 {
		r.reply(ctx, req, replyInvalidUser)
		return nil
	}
	if r.deps.Exclusions == nil {
		return errors.Configuration("exclusion store not configured")
	}

	start := r.now()
	added, err := r.deps.Exclusions.Toggle(id)
	r.audit(ctx, req, req.Args[0], start, err)
	if err != nil {
		return errors.Wrapf(err, "toggle exclusion %d", id)
	}

	req.Log.Info("exclusion toggled", logx.Uint64("user_id", id), logx.Bool("added", added))
	r.publish(eventbus.TypeExclusionToggled, ExclusionToggled{UserID: id, Added: added, ActorID: req.Msg.AuthorID})
	if added {
		r.reply(ctx, req, replyExcludedAdded)
	} else {
		r.reply(ctx, req, replyExcludedRemove)
	}
	return nil
}

func (r *Router) cmdSetLogLevel(ctx context.Context, req *Request) error {
	if r.deps.LogLevel == nil {
		return errors.Configuration("log level handle not configured")
	}
	if len(req.Args) == 0 {
		r.reply(ctx, req, "Current log level: "+r.deps.LogLevel.Level())
		return nil
	}
	level := strings.ToUpper(req.Args[0])
	if !logx.ValidLevel(level) {
		r.reply(ctx, req, fmt.Sprintf("Unknown log level %q", req.Args[0]))
		return nil
	}

	start := r.now()
	from := r.deps.LogLevel.Level()
	err := r.deps.LogLevel.SetLevel(level)
	r.audit(ctx, req, level, start, err)
	if err != nil {
		return errors.Wrap(err, "set log level")
	}

	req.Log.Info("log level changed", logx.String("from", from), logx.String("to", level))
	r.publish(eventbus.TypeLogLevelChanged, LogLevelChanged{From: from, To: level, ActorID: req.Msg.AuthorID})
	r.reply(ctx, req, fmt.Sprintf("Log level set to %s (was %s)", level, from))
	return nil
}

func (r *Router) cmdJobs(ctx context.Context, req *Request) error {
	if r.deps.Jobs == nil {
		r.reply(ctx, req, "No jobs scheduled")
		return nil
	}
	snap := r.deps.Jobs.Snapshot()
	if len(snap) == 0 {
		r.reply(ctx, req, "No jobs scheduled")
		return nil
	}
	lines := make([]string, 0, len(snap)+1)
	lines = append(lines, "**Jobs**")
	for _, j := range snap {
		line := fmt.Sprintf("`%s` every %s, next %s, runs %d, failures %d",
			j.Name, j.Interval, j.NextRun.UTC().Format(time.RFC3339), j.Runs, j.Failures)
		if j.Running {
			line += ", running"
		}
		if j.LastErr != "" {
			line += "\n  last error: " + j.LastErr
		}
		lines = append(lines, line)
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) cmdAudit(ctx context.Context, req *Request) error {
	if r.deps.Audit == nil {
		r.reply(ctx, req, "Audit storage is disabled")
		return nil
	}
	limit := defaultAuditLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			r.reply(ctx, req, "Usage: "+r.prefix+"audit [n]")
			return nil
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := r.deps.Audit.RecentAudit(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "read audit log")
	}
	if len(entries) == 0 {
		r.reply(ctx, req, "No audit entries")
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed: " + e.Error
		}
		lines = append(lines, fmt.Sprintf("%s <@%s> %s %s (%s)",
			e.At.UTC().Format(time.RFC3339), e.ActorID, e.Action, e.Target, status))
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}
