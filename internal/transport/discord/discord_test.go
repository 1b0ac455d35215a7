package discord

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/errors"
	"amd/internal/transport"
	logx "amd/pkg/logx"
)

type fakeSession struct {
	history []*discordgo.Message // newest first
	calls   int
	sent    []*discordgo.MessageSend
	sendErr error
}

func (f *fakeSession) Open() error                           { return nil }
func (f *fakeSession) Close() error                          { return nil }
func (f *fakeSession) AddHandler(handler interface{}) func() { return func() {} }

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", len(f.sent)), ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.calls++
	start := 0
	if beforeID != "" {
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return &discordgo.Member{User: &discordgo.User{ID: userID, Username: "member"}, Nick: "nick", Roles: []string{"r1"}}, nil
}

func (f *fakeSession) GuildMemberRoleAdd(_, _, _ string, _ ...discordgo.RequestOption) error {
	return nil
}

func (f *fakeSession) GuildMemberRoleRemove(_, _, _ string, _ ...discordgo.RequestOption) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
}

func makeHistory(now time.Time, n int, step time.Duration) []*discordgo.Message {
	out := make([]*discordgo.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &discordgo.Message{
			ID:        fmt.Sprintf("%d", 10000-i),
			Timestamp: now.Add(-time.Duration(i) * step),
			Author:    &discordgo.User{ID: fmt.Sprintf("u%d", i%7), Bot: i%5 == 4},
		})
	}
	return out
}

func TestAuthorsSincePagesUntilCutoff(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)
	fs := &fakeSession{history: makeHistory(now, 250, time.Minute)}
	a := NewWithSession(fs, logx.Nop())

	since := now.Add(-150 * time.Minute)
	authors, err := a.AuthorsSince(context.Background(), "c1", since)
	require.NoError(t, err)

	assert.Equal(t, 2, fs.calls, "should stop on the page containing the cutoff")
	for _, id := range []string{"u0", "u1", "u2", "u3"} {
		assert.Contains(t, authors, id)
	}
}

func TestAuthorsSinceShortChannel(t *testing.T) {
	t.Parallel()
	now := time.Now()
	fs := &fakeSession{history: makeHistory(now, 3, time.Second)}
	a := NewWithSession(fs, logx.Nop())

	authors, err := a.AuthorsSince(context.Background(), "c1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, fs.calls)
	assert.Len(t, authors, 3)
}

func TestAuthorsSinceFailsWhenPageCapHit(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)
	fs := &fakeSession{history: makeHistory(now, maxHistoryPages*historyPageSize+10, time.Second)}
	a := NewWithSession(fs, logx.Nop())

	authors, err := a.AuthorsSince(context.Background(), "c1", now.Add(-24*time.Hour))
	require.Error(t, err)
	assert.Nil(t, authors)
	assert.Equal(t, errors.KindMalformedResponse, errors.KindOf(err))
	assert.Equal(t, maxHistoryPages, fs.calls)
}

func TestSendMessageBuildsEmbed(t *testing.T) {
	t.Parallel()
	fs := &fakeSession{}
	a := NewWithSession(fs, logx.Nop())

	id, err := a.SendMessage(context.Background(), "c1", transport.OutgoingMessage{
		Content: "hello",
		Embed:   &transport.Embed{Title: "Status", ImageURL: "https://img", AuthorName: "amD"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	require.Len(t, fs.sent, 1)
	require.Len(t, fs.sent[0].Embeds, 1)
	assert.Equal(t, "https://img", fs.sent[0].Embeds[0].Image.URL)
	assert.Equal(t, "amD", fs.sent[0].Embeds[0].Author.Name)
}

func TestClassifyRESTErrors(t *testing.T) {
	t.Parallel()
	fs := &fakeSession{}
	a := NewWithSession(fs, logx.Nop())

	err := a.RemoveRole(context.Background(), "g", "u", "r")
	require.Error(t, err)
	assert.Equal(t, errors.KindPermissionDenied, errors.KindOf(err))

	fs.sendErr = fmt.Errorf("dial tcp: i/o timeout")
	_, err = a.SendMessage(context.Background(), "c1", transport.OutgoingMessage{Content: "x"})
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))

	assert.NoError(t, a.AddRole(context.Background(), "g", "u", "r"))
}

func TestSendUpdateDropsWhenFull(t *testing.T) {
	t.Parallel()
	a := NewWithSession(&fakeSession{}, logx.Nop())
	out := make(chan transport.Update, 1)
	a.out.Store((chan<- transport.Update)(out))

	a.sendUpdate(transport.Update{Kind: transport.UpdateMessage})
	a.sendUpdate(transport.Update{Kind: transport.UpdateMessage})
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.droppedUpdates)
}
