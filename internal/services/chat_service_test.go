package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convohub/internal/apperr"
	"convohub/internal/models"
)

func TestOneToOneReturnsExistingChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chats.OneToOne(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.IsGroup)
	assert.Nil(t, first.Admin)
	assert.Len(t, first.Members, 2)

	again, created, err := f.chats.OneToOne(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestOneToOneValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.chats.OneToOne(ctx, "alice", "alice")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, _, err = f.chats.OneToOne(ctx, "alice", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, _, err = f.chats.OneToOne(ctx, "alice", "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.chats.CreateGroup(ctx, "alice", " team ", []string{"bob", "bob", "alice", "carol"})
	require.NoError(t, err)

	assert.Equal(t, "team", view.Name)
	require.NotNil(t, view.Admin)
	assert.Equal(t, "alice", view.Admin.ID)
	ids := make([]string, 0, len(view.Members))
	for _, m := range view.Members {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, ids)
	assert.Equal(t, []string{"users:" + models.EventChatCreated}, f.notifier.events())

	_, err = f.chats.CreateGroup(ctx, "alice", "", []string{"bob"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.chats.CreateGroup(ctx, "alice", "solo", []string{"alice"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.chats.CreateGroup(ctx, "alice", "ghosts", []string{"ghost"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListOrdersByActivity(t *testing.T) {
	f := newFixture(t)
	older := f.group(t, "alice", "bob")
	newer := f.group(t, "alice", "carol")
	f.send(t, "alice", older.ID, "bump")

	chats, err := f.chats.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ID)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "bump", chats[0].LastMessage.Text)
	assert.Equal(t, newer.ID, chats[1].ID)
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.chats.AddMember(ctx, "bob", chat.ID, "carol")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	view, err := f.chats.AddMember(ctx, "alice", chat.ID, "carol")
	require.NoError(t, err)
	assert.Len(t, view.Members, 3)
	assert.Equal(t, []string{"room:" + models.EventMemberAdded, "outside:" + models.EventMemberAdded}, f.notifier.events())

	_, err = f.chats.AddMember(ctx, "alice", chat.ID, "carol")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	_, err = f.chats.AddMember(ctx, "alice", chat.ID, "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMembershipOpsRejectDirectChats(t *testing.T) {
	f := newFixture(t)
	direct, _, err := f.chats.OneToOne(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = f.chats.AddMember(context.Background(), "alice", direct.ID, "carol")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.chats.Leave(context.Background(), "alice", direct.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRemoveMemberEvicts(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob", "carol")
	ctx := context.Background()

	_, err := f.chats.RemoveMember(ctx, "alice", chat.ID, "alice")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.chats.RemoveMember(ctx, "alice", chat.ID, "dave")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	view, err := f.chats.RemoveMember(ctx, "alice", chat.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, view.Members, 2)
	assert.Equal(t, []string{chat.ID + "/bob"}, f.notifier.evicted)

	_, err = f.messages.Create(ctx, "bob", models.NewMessage{ChatID: chat.ID, Text: "still here?"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLeaveTransfersAdminToEarliestMember(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob", "carol")

	res, err := f.chats.Leave(context.Background(), "alice", chat.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Chat)
	assert.False(t, res.Deleted)
	require.NotNil(t, res.Chat.Admin)
	assert.Equal(t, "bob", res.Chat.Admin.ID)

	assert.Equal(t, []string{
		"room:" + models.EventMemberLeft,
		"outside:" + models.EventMemberLeft,
		"room:" + models.EventAdminTransferred,
		"outside:" + models.EventAdminTransferred,
	}, f.notifier.events())
	transferred := decodeData[models.MembershipEvent](t, f.notifier.deliveries[2].env)
	assert.Equal(t, "bob", transferred.UserID)
}

func TestLastMemberLeavingDeletesGroup(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob")
	f.send(t, "bob", chat.ID, "bye")
	ctx := context.Background()

	_, err := f.chats.Leave(ctx, "alice", chat.ID)
	require.NoError(t, err)
	res, err := f.chats.Leave(ctx, "bob", chat.ID)
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	_, err = f.store.GetChat(ctx, chat.ID)
	assert.Error(t, err)
	n, err := f.store.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.chats.TransferAdmin(ctx, "alice", chat.ID, "carol")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	view, err := f.chats.TransferAdmin(ctx, "alice", chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", view.Admin.ID)

	_, err = f.chats.TransferAdmin(ctx, "alice", chat.ID, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestDeleteGroup(t *testing.T) {
	f := newFixture(t)
	chat := f.group(t, "alice", "bob")
	ctx := context.Background()

	err := f.chats.DeleteGroup(ctx, "bob", chat.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.chats.DeleteGroup(ctx, "alice", chat.ID))
	assert.Equal(t, []string{"room:" + models.EventGroupDeleted, "outside:" + models.EventGroupDeleted}, f.notifier.events())
	assert.ElementsMatch(t, []string{chat.ID + "/alice", chat.ID + "/bob"}, f.notifier.evicted)

	_, err = f.chats.Get(ctx, "alice", chat.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteGroupSucceedsWhenMessageSweepFails(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Store.Messages = faultyMessages{MessageRepository: d.Store.Messages, sweepErr: errors.New("sweep failed")}
	})
	chat := f.group(t, "alice", "bob")
	f.send(t, "alice", chat.ID, "hello")
	f.notifier.reset()
	ctx := context.Background()

	require.NoError(t, f.chats.DeleteGroup(ctx, "alice", chat.ID))

	assert.Equal(t, []string{"room:" + models.EventGroupDeleted, "outside:" + models.EventGroupDeleted}, f.notifier.events())
	_, err := f.chats.Get(ctx, "bob", chat.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteGroupKeepsHistoryWhenChatDeleteFails(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Store.Chats = faultyChats{ChatRepository: d.Store.Chats, deleteErr: errors.New("connection reset")}
	})
	chat := f.group(t, "alice", "bob")
	f.send(t, "alice", chat.ID, "hello")
	f.notifier.reset()
	ctx := context.Background()

	err := f.chats.DeleteGroup(ctx, "alice", chat.ID)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	assert.Empty(t, f.notifier.events())
	page, err := f.messages.History(ctx, "bob", chat.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello", page.Messages[0].Text)
}

func TestMembershipPublishDoesNotHoldTheChatLock(t *testing.T) {
	events := newBlockingEvents("chat.member_added")
	f := newFixture(t, func(d *Deps) { d.Events = events })
	chat := f.group(t, "alice", "bob")
	ctx := context.Background()

	added := make(chan error, 1)
	go func() {
		_, err := f.chats.AddMember(ctx, "alice", chat.ID, "carol")
		added <- err
	}()
	select {
	case <-events.entered:
	case <-time.After(time.Second):
		t.Fatal("add member never reached the event log")
	}

	sent := make(chan error, 1)
	go func() {
		_, err := f.messages.Create(ctx, "bob", models.NewMessage{ChatID: chat.ID, Text: "welcome"})
		sent <- err
	}()
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send waited on a pending membership publish")
	}

	close(events.release)
	require.NoError(t, <-added)
}
