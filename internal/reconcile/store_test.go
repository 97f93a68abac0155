package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convohub/internal/models"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, minute int) models.MessageView {
	return models.MessageView{
		ID:        id,
		ChatID:    "c1",
		Sender:    models.UserSummary{ID: "u2"},
		Text:      id,
		SeenBy:    []string{},
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(list []models.MessageView) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestAddIsNoOpForKnownIdentity(t *testing.T) {
	s := New("u1")
	require.True(t, s.Add(msg("m1", 1)))

	dup := msg("m1", 1)
	dup.Text = "room broadcast copy"
	assert.False(t, s.Add(dup))

	got := s.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Text)
}

func TestAddKeepsChronologicalOrder(t *testing.T) {
	s := New("u1")
	s.Add(msg("m3", 3))
	s.Add(msg("m1", 1))
	s.Add(msg("m2", 2))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages("c1")))
}

func TestSetMessagesKeepsNewerLiveMessages(t *testing.T) {
	s := New("u1")
	s.Add(msg("m0", 0))
	s.Add(msg("m4", 4))

	s.SetMessages("c1", []models.MessageView{msg("m1", 1), msg("m2", 2), msg("m3", 3)})

	// m0 is older than the page and was not returned by it; m4 arrived live.
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(s.Messages("c1")))
}

func TestSetMessagesPrefersFetchedCopy(t *testing.T) {
	s := New("u1")
	s.Add(msg("m1", 1))

	fetched := msg("m1", 1)
	fetched.IsEdited = true
	s.SetMessages("c1", []models.MessageView{fetched, fetched})

	got := s.Messages("c1")
	require.Len(t, got, 1)
	assert.True(t, got[0].IsEdited)
}

func TestApplyByIdentityDropsUnknown(t *testing.T) {
	s := New("u1")
	s.SetMessages("c1", []models.MessageView{msg("m1", 1), msg("m2", 2)})

	edited := msg("m2", 2)
	edited.Text = "fixed"
	edited.IsEdited = true
	assert.True(t, s.Apply(edited))
	assert.False(t, s.Apply(msg("m9", 9)))

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "m2"}, ids(got))
	assert.Equal(t, "fixed", got[1].Text)
}

func TestApplyEnvelopeMessageEvents(t *testing.T) {
	s := New("u1")
	s.SetMessages("c1", []models.MessageView{msg("m1", 1)})

	changed, err := s.ApplyEnvelope(models.MustEnvelope(models.EventNewMessage, msg("m2", 2)))
	require.NoError(t, err)
	assert.True(t, changed)

	deleted := msg("m1", 1)
	deleted.IsDeleted = true
	deleted.Text = "This message was deleted"
	changed, err = s.ApplyEnvelope(models.MustEnvelope(models.EventMessageDeleted, deleted))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ApplyEnvelope(models.MustEnvelope(models.EventSeen, models.SeenEvent{MessageID: "m2", ChatID: "c1", UserID: "u1", SeenBy: []string{"u1"}}))
	require.NoError(t, err)
	assert.True(t, changed)

	got := s.Messages("c1")
	assert.True(t, got[0].IsDeleted)
	assert.Equal(t, []string{"u1"}, got[1].SeenBy)
}

func TestApplyEnvelopeMessagesSeenSkipsOwnMessages(t *testing.T) {
	s := New("u2")
	own := msg("m1", 1)
	other := msg("m2", 2)
	other.Sender = models.UserSummary{ID: "u3"}
	s.SetMessages("c1", []models.MessageView{own, other})

	changed, err := s.ApplyEnvelope(models.MustEnvelope(models.EventMessagesSeen, models.ChatSeenEvent{ChatID: "c1", UserID: "u2", Updated: 1}))
	require.NoError(t, err)
	assert.True(t, changed)

	got := s.Messages("c1")
	assert.Empty(t, got[0].SeenBy)
	assert.Equal(t, []string{"u2"}, got[1].SeenBy)
}

func TestApplyEnvelopeChatList(t *testing.T) {
	s := New("u1")
	s.SetChats([]models.ChatView{{ID: "c1"}})

	changed, err := s.ApplyEnvelope(models.MustEnvelope(models.EventChatCreated, models.NewChatEvent{Chat: models.ChatView{ID: "g1", IsGroup: true}}))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ApplyEnvelope(models.MustEnvelope(models.EventChatCreated, models.NewChatEvent{Chat: models.ChatView{ID: "g1"}}))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.ApplyEnvelope(models.MustEnvelope(models.EventGroupDeleted, models.GroupDeletedEvent{ChatID: "g1", ActorID: "u2"}))
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, s.Chats(), 1)
	assert.Equal(t, "c1", s.Chats()[0].ID)
}

func TestNewMessageMovesChatToTop(t *testing.T) {
	s := New("u1")
	s.SetChats([]models.ChatView{{ID: "c0"}, {ID: "c1"}})

	_, err := s.ApplyEnvelope(models.MustEnvelope(models.EventNewMessage, msg("m1", 1)))
	require.NoError(t, err)

	chats := s.Chats()
	assert.Equal(t, "c1", chats[0].ID)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "m1", chats[0].LastMessage.ID)
}

func TestMemberRemovedDropsChatForViewer(t *testing.T) {
	s := New("u1")
	s.SetChats([]models.ChatView{{ID: "g1", IsGroup: true}})
	s.SetMessages("g1", []models.MessageView{{ID: "m1", ChatID: "g1"}})

	changed, err := s.ApplyEnvelope(models.MustEnvelope(models.EventMemberRemoved, models.MembershipEvent{Chat: models.ChatView{ID: "g1"}, UserID: "u1", ActorID: "u2"}))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, s.Chats())
	assert.Empty(t, s.Messages("g1"))
}

func TestApplyEnvelopeRejectsMalformedPayload(t *testing.T) {
	s := New("u1")

	_, err := s.ApplyEnvelope(models.Envelope{Event: models.EventNewMessage, Data: []byte("{")})
	assert.Error(t, err)

	changed, err := s.ApplyEnvelope(models.Envelope{Event: "user-online"})
	assert.NoError(t, err)
	assert.False(t, changed)
}
