package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User        *User
	DeviceName  string
	ClientToken string
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, deviceName string) *Member {
	return &Member{User: user, DeviceName: truncate(deviceName, MaxDeviceNameLen)}
}

// Authenticated reports whether the member connected with a verified token.
func (m *Member) Authenticated() bool {
	return m.User != nil && m.User.ID != ""
}
