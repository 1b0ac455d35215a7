// Package commands dispatches prefix commands ("$toggle_exclusion 123")
// posted in guild channels.
//
// Handle runs one command to completion before returning; the app calls it
// from a single dispatch goroutine, which is what serializes writes to the
// exclusion file.
package commands

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"amd/internal/eventbus"
	"amd/internal/scheduler"
	"amd/internal/storage"
	"amd/internal/transport"
	logx "amd/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Msg     *transport.Message
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger
}

// Exclusions is the part of the exclusion store commands mutate.
type Exclusions interface {
	Toggle(id uint64) (added bool, err error)
}

// Jobs reports scheduler state.
type Jobs interface {
	Snapshot() []scheduler.JobStatus
}

// LogLevel is the runtime verbosity handle.
type LogLevel interface {
	Level() string
	SetLevel(level string) error
}

type Config struct {
	Prefix  string
	Owners  []string
	Timeout time.Duration
}

// Deps are the collaborators handlers use. Audit and Bus may be nil.
type Deps struct {
	Platform   transport.Platform
	Exclusions Exclusions
	Jobs       Jobs
	LogLevel   LogLevel
	Audit      storage.Store
	Bus        eventbus.Bus
}

type Router struct {
	prefix  string
	owners  map[string]struct{}
	timeout time.Duration

	deps Deps
	log  logx.Logger
	now  func() time.Time

	cmds map[string]Command
}

func New(cfg Config, deps Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "$"
	}
	owners := make(map[string]struct{}, len(cfg.Owners))
	for _, id := range cfg.Owners {
		if id = strings.TrimSpace(id); id != "" {
			owners[id] = struct{}{}
		}
	}
	r := &Router{
		prefix:  prefix,
		owners:  owners,
		timeout: cfg.Timeout,
		deps:    deps,
		log:     log.With(logx.Comp("commands")),
		now:     time.Now,
		cmds:    map[string]Command{},
	}
	for _, c := range r.builtins() {
		r.cmds[c.Name] = c
	}
	return r
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Router) isOwner(userID string) bool {
	_, ok := r.owners[userID]
	return ok
}

// Handle runs the command in msg, if any, and reports whether msg was one.
func (r *Router) Handle(ctx context.Context, msg *transport.Message) bool {
	if msg == nil || msg.IsBot {
		return false
	}
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, r.prefix) {
		return false
	}
	parts := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(parts) == 0 {
		return false
	}
	name := strings.ToLower(parts[0])
	cmd, ok := r.cmds[name]
	if !ok {
		return false
	}

	req := &Request{
		Msg:     msg,
		Command: name,
		Args:    parts[1:],
		ReqID:   uuid.NewString(),
	}
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.String("cmd", name),
		logx.String("channel_id", msg.ChannelID),
		logx.String("from_id", msg.AuthorID),
	)

	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.AuthorID) {
		req.Log.Warn("command denied")
		r.reply(ctx, req, "unauthorized")
		return true
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	_ = final(ctx, req)
	return true
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if r.deps.Platform == nil {
		return
	}
	_, err := r.deps.Platform.SendMessage(ctx, req.Msg.ChannelID, transport.OutgoingMessage{
		Content: text,
		ReplyTo: req.Msg.ID,
	})
	if err != nil {
		req.Log.Warn("reply failed", logx.Err(err))
	}
}

// audit records an operator action. Storage failures are logged only.
func (r *Router) audit(ctx context.Context, req *Request, target string, start time.Time, err error) {
	if r.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        r.now().UTC(),
		ActorID:   req.Msg.AuthorID,
		ActorName: req.Msg.Author,
		GuildID:   req.Msg.GuildID,
		ChannelID: req.Msg.ChannelID,
		Action:    req.Command,
		Target:    target,
		OK:        err == nil,
		TookMS:    r.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := r.deps.Audit.AppendAudit(ctx, e); aerr != nil {
		req.Log.Warn("audit append failed", logx.Err(aerr))
	}
}

func (r *Router) publish(typ string, data any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}
