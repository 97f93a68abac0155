package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convohub/internal/keylock"
	"convohub/internal/models"
	"convohub/internal/repositories"
	"convohub/internal/repositories/memstore"
)

type delivery struct {
	scope  string
	chatID string
	users  []string
	env    models.Envelope
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
	evicted    []string
}

func (n *recordingNotifier) record(d delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
}

func (n *recordingNotifier) ToRoom(chatID string, env models.Envelope) {
	n.record(delivery{scope: "room", chatID: chatID, env: env})
}

func (n *recordingNotifier) ToUsers(userIDs []string, env models.Envelope) {
	n.record(delivery{scope: "users", users: userIDs, env: env})
}

func (n *recordingNotifier) ToUsersOutsideRoom(chatID string, userIDs []string, env models.Envelope) {
	n.record(delivery{scope: "outside", chatID: chatID, users: userIDs, env: env})
}

func (n *recordingNotifier) EvictFromRoom(chatID, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evicted = append(n.evicted, chatID+"/"+userID)
}

// events returns "scope:event" for every delivery, in order.
func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.deliveries))
	for _, d := range n.deliveries {
		out = append(out, d.scope+":"+d.env.Event)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = nil
	n.evicted = nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (r *recordingEvents) Publish(_ context.Context, ev models.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type stubMailer struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (m *stubMailer) SendInvite(_ context.Context, _, link, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.links = append(m.links, link)
	return nil
}

type fixture struct {
	store    *memstore.Store
	notifier *recordingNotifier
	events   *recordingEvents
	mailer   *stubMailer
	messages *MessageService
	chats    *ChatService
	invites  *InviteService
	users    *UserService
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances by a second per call so stored records order deterministically.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newFixture wires every service over a fresh memstore. opts may swap
// collaborators before the services are built.
func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "carol", Name: "Carol", Email: "carol@example.com"},
		{ID: "dave", Name: "Dave", Email: "dave@example.com"},
	} {
		_, err := store.CreateUser(ctx, u)
		require.NoError(t, err)
	}

	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	deps := Deps{
		Store:    store.Repositories(),
		Notifier: notifier,
		Events:   events,
		Log:      zap.NewNop(),
		Locks:    keylock.New(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f := &fixture{
		store:    store,
		notifier: notifier,
		events:   events,
		mailer:   &stubMailer{},
		messages: NewMessageService(deps),
		chats:    NewChatService(deps),
		users:    NewUserService(deps),
		clock:    clock,
	}
	f.invites = NewInviteService(deps, f.chats, f.mailer, InviteConfig{TTL: time.Hour, FrontendURL: "https://app.example.com/"})
	f.messages.now = clock.Now
	f.chats.now = clock.Now
	f.invites.now = clock.Now
	f.users.now = clock.Now
	return f
}

// blockingEvents holds the first publish of one event type until release
// is closed. Later publishes pass straight through.
type blockingEvents struct {
	eventType string
	held      atomic.Bool
	entered   chan struct{}
	release   chan struct{}
}

func newBlockingEvents(eventType string) *blockingEvents {
	return &blockingEvents{eventType: eventType, entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingEvents) Publish(_ context.Context, ev models.DomainEvent) error {
	if ev.Type == b.eventType && b.held.CompareAndSwap(false, true) {
		close(b.entered)
		<-b.release
	}
	return nil
}

type faultyChats struct {
	repositories.ChatRepository
	lastMessageErr error
	deleteErr      error
}

func (c faultyChats) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	if c.lastMessageErr != nil {
		return c.lastMessageErr
	}
	return c.ChatRepository.SetLastMessage(ctx, chatID, messageID, at)
}

func (c faultyChats) DeleteChat(ctx context.Context, chatID string) error {
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.ChatRepository.DeleteChat(ctx, chatID)
}

type faultyMessages struct {
	repositories.MessageRepository
	sweepErr error
}

func (m faultyMessages) DeleteChatMessages(ctx context.Context, chatID string) error {
	if m.sweepErr != nil {
		return m.sweepErr
	}
	return m.MessageRepository.DeleteChatMessages(ctx, chatID)
}

func (f *fixture) group(t *testing.T, admin string, members ...string) models.ChatView {
	t.Helper()
	view, err := f.chats.CreateGroup(context.Background(), admin, "team", members)
	require.NoError(t, err)
	f.notifier.reset()
	return view
}

func (f *fixture) send(t *testing.T, userID, chatID, text string) models.MessageView {
	t.Helper()
	view, err := f.messages.Create(context.Background(), userID, models.NewMessage{ChatID: chatID, Text: text})
	require.NoError(t, err)
	return view
}

func decodeData[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
