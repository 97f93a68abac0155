package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"convohub/internal/models"
	"convohub/internal/observability"
)

// Target scopes.
const (
	ScopeRoom         = "room"
	ScopeUsers        = "users"
	ScopeUsersOutside = "users-outside-room"
	ScopeGlobal       = "global"
	ScopeEvict        = "evict"
)

// Target describes who receives a frame. It is serialisable so other nodes
// can resolve it against their own connections.
type Target struct {
	Scope      string   `json:"scope"`
	ChatID     string   `json:"chatId,omitempty"`
	UserIDs    []string `json:"userIds,omitempty"`
	ExceptConn string   `json:"exceptConn,omitempty"`
	ExceptUser string   `json:"exceptUser,omitempty"`
}

// Relay forwards frames to the other server nodes.
type Relay interface {
	Publish(ctx context.Context, target Target, frame []byte) error
}

// Hub fans canonical events out to rooms, personal channels and everyone.
// Delivery is fire-and-forget: a connection whose buffer is full is closed.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	relay    Relay
	log      *zap.Logger
}

// NewHub creates a hub over the given registry and rooms.
func NewHub(registry *Registry, rooms *Rooms, log *zap.Logger) *Hub {
	return &Hub{registry: registry, rooms: rooms, log: log}
}

// SetRelay enables cross-node fan-out.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// ToRoom delivers to every connection joined to chatID, the sender's own
// other devices included.
func (h *Hub) ToRoom(chatID string, env models.Envelope) {
	h.emit(Target{Scope: ScopeRoom, ChatID: chatID}, env)
}

// ToRoomExcept delivers to the room minus one connection.
func (h *Hub) ToRoomExcept(chatID, exceptConnID string, env models.Envelope) {
	h.emit(Target{Scope: ScopeRoom, ChatID: chatID, ExceptConn: exceptConnID}, env)
}

// ToUsers delivers to the personal channel of each user.
func (h *Hub) ToUsers(userIDs []string, env models.Envelope) {
	if len(userIDs) == 0 {
		return
	}
	h.emit(Target{Scope: ScopeUsers, UserIDs: userIDs}, env)
}

// ToUsersOutsideRoom delivers to the users' connections that are not joined
// to chatID, so room subscribers do not receive the frame twice.
func (h *Hub) ToUsersOutsideRoom(chatID string, userIDs []string, env models.Envelope) {
	if len(userIDs) == 0 {
		return
	}
	h.emit(Target{Scope: ScopeUsersOutside, ChatID: chatID, UserIDs: userIDs}, env)
}

// Global delivers to every connection except those of exceptUserID.
func (h *Hub) Global(exceptUserID string, env models.Envelope) {
	h.emit(Target{Scope: ScopeGlobal, ExceptUser: exceptUserID}, env)
}

// EvictFromRoom unsubscribes every connection of userID from chatID.
func (h *Hub) EvictFromRoom(chatID, userID string) {
	target := Target{Scope: ScopeEvict, ChatID: chatID, UserIDs: []string{userID}}
	h.DeliverLocal(target, nil)
	h.forward(target, nil)
}

// SendTo delivers to a single local connection.
func (h *Hub) SendTo(c Conn, env models.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}
	h.send(c, frame)
}

// DeliverLocal resolves target against this node's connections.
func (h *Hub) DeliverLocal(target Target, frame []byte) {
	if target.Scope == ScopeEvict {
		for _, userID := range target.UserIDs {
			for _, c := range h.registry.ConnsForUser(userID) {
				h.rooms.Leave(c, target.ChatID)
			}
		}
		return
	}
	delivered := 0
	for _, c := range h.resolve(target) {
		if h.send(c, frame) {
			delivered++
		}
	}
	observability.AddBroadcastDeliveries(target.Scope, delivered)
}

func (h *Hub) emit(target Target, env models.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}
	h.DeliverLocal(target, frame)
	h.forward(target, frame)
}

func (h *Hub) forward(target Target, frame []byte) {
	if h.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.relay.Publish(ctx, target, frame); err != nil {
		observability.IncEventPublishError("relay")
		h.log.Warn("relay publish failed", zap.String("scope", target.Scope), zap.Error(err))
	}
}

func (h *Hub) resolve(target Target) []Conn {
	switch target.Scope {
	case ScopeRoom:
		conns := h.rooms.Members(target.ChatID)
		if target.ExceptConn == "" {
			return conns
		}
		out := conns[:0]
		for _, c := range conns {
			if c.ID() != target.ExceptConn {
				out = append(out, c)
			}
		}
		return out
	case ScopeUsers, ScopeUsersOutside:
		var out []Conn
		for _, userID := range target.UserIDs {
			for _, c := range h.registry.ConnsForUser(userID) {
				if target.Scope == ScopeUsersOutside && h.rooms.IsJoined(c.ID(), target.ChatID) {
					continue
				}
				out = append(out, c)
			}
		}
		return out
	case ScopeGlobal:
		all := h.registry.All()
		out := all[:0]
		for _, c := range all {
			if c.UserID() != target.ExceptUser {
				out = append(out, c)
			}
		}
		return out
	default:
		h.log.Warn("unknown broadcast scope", zap.String("scope", target.Scope))
		return nil
	}
}

func (h *Hub) send(c Conn, frame []byte) bool {
	if c.Send(frame) {
		return true
	}
	observability.IncBroadcastDrop()
	h.log.Warn("dropping slow websocket consumer", zap.String("conn_id", c.ID()), zap.String("user_id", c.UserID()))
	c.Close()
	return false
}
