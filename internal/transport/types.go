package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage        UpdateKind = "message"
	UpdateReactionAdd    UpdateKind = "reaction_add"
	UpdateReactionRemove UpdateKind = "reaction_remove"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Reaction *Reaction
}

type Message struct {
	ID        string
	ChannelID string
	GuildID   string // empty for direct messages
	AuthorID  string
	Author    string
	Content   string
	IsBot     bool
}

type Reaction struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	// Emoji is the unicode emoji, or "name:id" for custom guild emoji.
	Emoji string
}

type Embed struct {
	Title       string
	URL         string
	Description string
	ImageURL    string
	AuthorName  string
	AuthorURL   string
	IconURL     string
}

type OutgoingMessage struct {
	Content string
	Embed   *Embed
	// ReplyTo references a message in the same channel (optional).
	ReplyTo string
}

type Member struct {
	UserID   string
	Username string
	Nick     string
	Roles    []string
}

// Platform is the narrow messaging-platform surface used by jobs, commands
// and event handlers. Implementations must be safe for concurrent use.
type Platform interface {
	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (string, error)
	Member(ctx context.Context, guildID, userID string) (Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	// AuthorsSince returns the ids of users who posted in channelID at or after since.
	AuthorsSince(ctx context.Context, channelID string, since time.Time) (map[string]struct{}, error)
}

// Adapter is a Platform with a gateway connection feeding updates.
type Adapter interface {
	Platform
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
