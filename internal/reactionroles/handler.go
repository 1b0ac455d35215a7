// Package reactionroles grants or revokes guild roles when members react on
// the roles message.
package reactionroles

import (
	"context"

	"amd/internal/appstate"
	"amd/internal/transport"
	logx "amd/pkg/logx"
)

type Handler struct {
	messageID string
	st        *appstate.State
	log       logx.Logger
}

func New(messageID string, st *appstate.State, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{messageID: messageID, st: st, log: log.With(logx.Comp("reactionroles"))}
}

// Relevant reports whether r targets the roles message with a mapped emoji.
func (h *Handler) Relevant(r *transport.Reaction) bool {
	if r == nil || h.messageID == "" || r.MessageID != h.messageID {
		return false
	}
	_, ok := h.st.ReactionRoles.Lookup(r.Emoji)
	return ok
}

// Handle processes reaction updates and reports whether the update was one.
// Failures are logged only; nothing is posted back to the guild.
func (h *Handler) Handle(ctx context.Context, up transport.Update) bool {
	var add bool
	switch up.Kind {
	case transport.UpdateReactionAdd:
		add = true
	case transport.UpdateReactionRemove:
	default:
		return false
	}
	r := up.Reaction
	if !h.Relevant(r) {
		return true
	}
	log := h.log.With(logx.String("emoji", r.Emoji), logx.String("user_id", r.UserID), logx.Bool("add", add))
	if r.GuildID == "" || r.UserID == "" {
		log.Debug("reaction without guild or user")
		return true
	}
	role, _ := h.st.ReactionRoles.Lookup(r.Emoji)

	member, err := h.st.Platform.Member(ctx, r.GuildID, r.UserID)
	if err != nil {
		log.Error("member lookup failed", logx.Err(err))
		return true
	}

	if add {
		err = h.st.Platform.AddRole(ctx, r.GuildID, member.UserID, role)
	} else {
		err = h.st.Platform.RemoveRole(ctx, r.GuildID, member.UserID, role)
	}
	if err != nil {
		log.Error("could not update role", logx.String("role_id", role), logx.Err(err))
		return true
	}
	log.Debug("role updated", logx.String("role_id", role))
	return true
}
