package domain

import "time"

type RoomID string

// Room is the membership scope a session signals in.
type Room struct {
	ID        RoomID    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRoom(id RoomID) *Room {
	return &Room{ID: id, CreatedAt: time.Now()}
}
