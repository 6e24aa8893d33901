package domain

import "time"

// MediaRecord points at the recorded media of a finished broadcast.
// (RoomID, HostUserID) is unique.
type MediaRecord struct {
	RoomID     RoomID    `json:"room_id"`
	HostUserID UserID    `json:"host_user_id"`
	SavePath   string    `json:"save_path"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
