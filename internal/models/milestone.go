package models

import "time"

// MilestoneRecord is the per-category schedule/submission record a team owns.
// A placeholder is created for every configured category with the team and
// all of them are removed when the team is dissolved.
type MilestoneRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TeamID      uint       `gorm:"uniqueIndex:idx_team_category;not null" json:"team_id"`
	Category    string     `gorm:"uniqueIndex:idx_team_category;size:50;not null" json:"category"`
	Verdict     Verdict    `gorm:"size:20;default:pending" json:"verdict"`
	Title       string     `gorm:"size:300" json:"title"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	ReviewedBy  *uint      `json:"reviewed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (MilestoneRecord) TableName() string { return "milestone_records" }

// Approved reports whether downstream tasks may proceed.
func (r *MilestoneRecord) Approved() bool {
	return r.Verdict == VerdictApproved && r.Title != ""
}
