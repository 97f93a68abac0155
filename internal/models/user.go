package models

import "time"

// User is the stored account record. IsOnline is owned by the presence tracker.
type User struct {
	ID        string     `db:"id" bson:"_id" json:"id"`
	Name      string     `db:"name" bson:"name" json:"name"`
	Email     string     `db:"email" bson:"email" json:"email"`
	Avatar    string     `db:"avatar" bson:"avatar" json:"avatar,omitempty"`
	IsOnline  bool       `db:"is_online" bson:"isOnline" json:"isOnline"`
	LastSeen  *time.Time `db:"last_seen" bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
	CreatedAt time.Time  `db:"created_at" bson:"createdAt" json:"createdAt"`
}

// UserSummary is the projection embedded in events and responses.
type UserSummary struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Email    string     `json:"email,omitempty"`
	Avatar   string     `json:"avatar,omitempty"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Summary projects the user for outbound payloads.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// UnknownUser is used when a referenced account no longer resolves.
func UnknownUser(id string) UserSummary {
	return UserSummary{ID: id, Name: "Unknown user"}
}
