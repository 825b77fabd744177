package domain

// Member represents a user's participation in a relay room.
type Member struct {
	User *User
}

func NewMember(user *User) *Member {
	return &Member{User: user}
}
