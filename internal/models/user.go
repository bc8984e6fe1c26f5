package models

// User is the platform account a JWT subject resolves to.
type User struct {
	ID    string `gorm:"primary_key;size:128" json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `gorm:"size:16" json:"role"`
}

func (User) TableName() string {
	return "users"
}

// Actor returns the identity used by core operations.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Email: u.Email, Role: u.Role}
}

// GroupMember links a user to a group for share resolution.
type GroupMember struct {
	GroupID string `gorm:"primary_key;size:128" json:"groupId"`
	UserID  string `gorm:"primary_key;size:128" json:"userId"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
