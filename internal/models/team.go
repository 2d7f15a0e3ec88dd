package models

import "time"

// Team is a capstone group. ManagerID is unique across teams so the store
// itself rejects a second team for the same project manager.
type Team struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:200;not null" json:"name"`
	ManagerID uint         `gorm:"uniqueIndex;not null" json:"manager_id"`
	AdviserID *uint        `gorm:"index" json:"adviser_id"`
	Version   uint         `gorm:"not null;default:1" json:"version"`
	Members   []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Team) TableName() string { return "teams" }

// MemberIDs returns the roster without the manager.
func (t *Team) MemberIDs() []uint {
	ids := make([]uint, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func (t *Team) HasMember(userID uint) bool {
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// TeamMember is one roster entry. A user sits on at most one team.
type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"index;not null" json:"team_id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (TeamMember) TableName() string { return "team_members" }
