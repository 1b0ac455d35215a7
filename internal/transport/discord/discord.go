package discord

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"amd/internal/errors"
	rtsup "amd/internal/runtime/supervisor"
	"amd/internal/transport"
	logx "amd/pkg/logx"
)

type Config struct {
	Token string
}

// Session is the subset of *discordgo.Session the adapter relies on.
// It exists so REST paths can be exercised without a gateway connection.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()

	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

type Adapter struct {
	log logx.Logger
	s   Session

	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	removes []func()

	sup *rtsup.Supervisor

	droppedUpdates uint64
}

const historyPageSize = 100

// maxHistoryPages bounds AuthorsSince on very busy channels. Reaching it
// without finding the cutoff is an error.
const maxHistoryPages = 50

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.Configuration("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return NewWithSession(s, log), nil
}

// NewWithSession wraps an existing session.
func NewWithSession(s Session, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, s: s}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	return a
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() []func() {
	return []func(){
		a.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if r == nil || r.User == nil {
				return
			}
			a.log.Info("gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
		}),
		a.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if m == nil || m.Message == nil || m.Author == nil {
				return
			}
			a.sendUpdate(transport.Update{Kind: transport.UpdateMessage, Message: toMessage(m.Message)})
		}),
		a.s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			if r == nil || r.MessageReaction == nil {
				return
			}
			a.sendUpdate(transport.Update{Kind: transport.UpdateReactionAdd, Reaction: toReaction(r.MessageReaction)})
		}),
		a.s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
			if r == nil || r.MessageReaction == nil {
				return
			}
			a.sendUpdate(transport.Update{Kind: transport.UpdateReactionRemove, Reaction: toReaction(r.MessageReaction)})
		}),
	}
}

func toMessage(m *discordgo.Message) *transport.Message {
	return &transport.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorID:  m.Author.ID,
		Author:    m.Author.Username,
		Content:   m.Content,
		IsBot:     m.Author.Bot,
	}
}

func toReaction(r *discordgo.MessageReaction) *transport.Reaction {
	return &transport.Reaction{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
	}
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	a.removes = a.registerHandlers()
	if err := a.s.Open(); err != nil {
		for _, rm := range a.removes {
			rm()
		}
		a.removes = nil
		var nilOut chan<- transport.Update
		a.out.Store(nilOut)
		a.runMu.Unlock()
		return classify(err, "open discord gateway")
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.Comp("discord.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	removes := a.removes
	a.removes = nil
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	for _, rm := range removes {
		rm()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("discord supervisor stop", logx.Err(err))
		}
	}
	if err := a.s.Close(); err != nil {
		a.log.Warn("discord close", logx.Err(err))
	}
	a.log.Info("gateway closed")
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, msg transport.OutgoingMessage) (string, error) {
	data := &discordgo.MessageSend{Content: msg.Content}
	if e := msg.Embed; e != nil {
		emb := &discordgo.MessageEmbed{Title: e.Title, URL: e.URL, Description: e.Description}
		if e.ImageURL != "" {
			emb.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		if e.AuthorName != "" || e.AuthorURL != "" || e.IconURL != "" {
			emb.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL, IconURL: e.IconURL}
		}
		data.Embeds = []*discordgo.MessageEmbed{emb}
	}
	if msg.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: channelID}
	}
	m, err := a.s.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err, "send message")
	}
	return m.ID, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (transport.Member, error) {
	m, err := a.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Member{}, classify(err, "lookup guild member")
	}
	out := transport.Member{Nick: m.Nick, Roles: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
	}
	return out, nil
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return classify(a.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)), "add role")
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return classify(a.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)), "remove role")
}

// AuthorsSince pages backwards through channel history (newest first) until
// it reaches a message older than since.
func (a *Adapter) AuthorsSince(ctx context.Context, channelID string, since time.Time) (map[string]struct{}, error) {
	authors := map[string]struct{}{}
	before := ""
	for page := 0; page < maxHistoryPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := a.s.ChannelMessages(channelID, historyPageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(err, "read channel history")
		}
		for _, m := range msgs {
			if m == nil {
				continue
			}
			if m.Timestamp.Before(since) {
				return authors, nil
			}
			if m.Author != nil && !m.Author.Bot {
				authors[m.Author.ID] = struct{}{}
			}
			before = m.ID
		}
		if len(msgs) < historyPageSize {
			return authors, nil
		}
	}
	// A partial author set would mark active members inactive, so the run
	// fails instead.
	return nil, errors.Malformed("channel %s history not exhausted after %d pages", channelID, maxHistoryPages)
}

// classify tags REST failures: 401/403 become permission errors, everything
// else is treated as a network failure.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.PermissionDenied(err, op)
		}
	}
	return errors.Network(err, op)
}
