package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"gorm.io/gorm"
)

// RosterService owns teams, their member lists, their milestone records and
// the project manager role on user accounts. Every mutation is one database
// transaction, except a batched dissolve (see DissolveTeam).
type RosterService struct {
	db     *gorm.DB
	cfg    *config.RosterConfig
	events *EventHub
	queue  TaskQueue
}

func NewRosterService(db *gorm.DB, cfg *config.RosterConfig) *RosterService {
	return &RosterService{db: db, cfg: cfg}
}

// SetEventHub enables change notifications after each commit.
func (s *RosterService) SetEventHub(hub *EventHub) { s.events = hub }

// SetTaskQueue enables "team created" notification jobs.
func (s *RosterService) SetTaskQueue(q TaskQueue) { s.queue = q }

type CreateTeamRequest struct {
	ManagerID uint   `json:"manager_id" binding:"required"`
	MemberIDs []uint `json:"member_ids"`
	Name      string `json:"name"`
	AdviserID *uint  `json:"adviser_id"`
}

type EditTeamRequest struct {
	ManagerID *uint   `json:"manager_id"`
	MemberIDs []uint  `json:"member_ids"`
	Name      *string `json:"name"`
	AdviserID *uint   `json:"adviser_id"`
	// Version, when set, must match the stored team version.
	Version uint `json:"version"`
}

type TransferMemberRequest struct {
	MemberID   uint `json:"member_id" binding:"required"`
	FromTeamID uint `json:"from_team_id" binding:"required"`
	ToTeamID   uint `json:"to_team_id" binding:"required"`
}

type TeamListRequest struct {
	AdviserID *uint  `form:"adviser_id"`
	Search    string `form:"search"`
}

func (s *RosterService) GetTeam(ctx context.Context, id uint) (*models.Team, error) {
	var team models.Team
	if err := s.db.WithContext(ctx).Preload("Members").First(&team, id).Error; err != nil {
		return nil, classifyStoreError("getTeam", err)
	}
	return &team, nil
}

func (s *RosterService) ListTeams(ctx context.Context, req *TeamListRequest) ([]models.Team, error) {
	query := s.db.WithContext(ctx).Model(&models.Team{}).Preload("Members")
	if req.AdviserID != nil {
		query = query.Where("adviser_id = ?", *req.AdviserID)
	}
	if req.Search != "" {
		query = query.Where("name LIKE ?", "%"+req.Search+"%")
	}

	var teams []models.Team
	if err := query.Order("id").Find(&teams).Error; err != nil {
		return nil, classifyStoreError("listTeams", err)
	}
	return teams, nil
}

// GetTeamByManager is the by-manager lookup behind the uniqueness check.
func (s *RosterService) GetTeamByManager(ctx context.Context, managerID uint) (*models.Team, error) {
	var team models.Team
	if err := s.db.WithContext(ctx).Preload("Members").Where("manager_id = ?", managerID).First(&team).Error; err != nil {
		return nil, classifyStoreError("getTeamByManager", err)
	}
	return &team, nil
}

// ListUsersByRole backs the pickers on the team form.
func (s *RosterService) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	if !role.Valid() {
		return nil, validationError("listUsersByRole", "unknown role %q", role)
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("role = ? AND is_active = ?", role, true).
		Order("last_name, first_name").Find(&users).Error; err != nil {
		return nil, classifyStoreError("listUsersByRole", err)
	}
	return users, nil
}

// TeamOf returns the team a user manages or belongs to.
func (s *RosterService) TeamOf(ctx context.Context, userID uint) (*models.Team, error) {
	team, err := s.GetTeamByManager(ctx, userID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return team, err
	}

	var m models.TeamMember
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		return nil, classifyStoreError("teamOf", err)
	}
	return s.GetTeam(ctx, m.TeamID)
}

// CreateTeam promotes the candidate to project manager and creates the team,
// its roster and one placeholder milestone record per configured category in
// a single commit.
func (s *RosterService) CreateTeam(ctx context.Context, req *CreateTeamRequest, actorID uint) (*models.Team, error) {
	const op = "createTeam"

	if err := checkDistinct(op, req.MemberIDs); err != nil {
		return nil, err
	}
	for _, id := range req.MemberIDs {
		if id == req.ManagerID {
			return nil, validationError(op, "member list must not contain the project manager")
		}
	}
	if s.cfg.RequireMembers && len(req.MemberIDs) == 0 {
		return nil, validationError(op, "a team needs at least one member")
	}

	var team models.Team
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate, err := loadUser(tx, op, req.ManagerID)
		if err != nil {
			return err
		}
		if candidate.Role != models.RoleMember && candidate.Role != models.RoleProjectManager {
			return validationError(op, "user %d has role %s and cannot lead a team", candidate.ID, candidate.Role)
		}
		if err := ensureNotManaging(tx, op, candidate.ID, 0); err != nil {
			return err
		}
		if err := ensureNotRostered(tx, op, []uint{candidate.ID}, 0); err != nil {
			return err
		}
		if err := validateMembers(tx, op, req.MemberIDs, nil); err != nil {
			return err
		}
		if err := ensureNotRostered(tx, op, req.MemberIDs, 0); err != nil {
			return err
		}
		if err := validateAdviser(tx, op, req.AdviserID); err != nil {
			return err
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = s.defaultName(candidate)
		}

		if err := setRole(tx, op, candidate.ID, models.RoleProjectManager); err != nil {
			return err
		}

		team = models.Team{
			Name:      name,
			ManagerID: candidate.ID,
			AdviserID: req.AdviserID,
			Version:   1,
		}
		if err := tx.Create(&team).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if err := insertRoster(tx, op, team.ID, req.MemberIDs); err != nil {
			return err
		}

		records := make([]models.MilestoneRecord, 0, len(s.cfg.Categories))
		for _, cat := range s.cfg.Categories {
			records = append(records, models.MilestoneRecord{
				TeamID:   team.ID,
				Category: cat.Key,
				Verdict:  models.VerdictPending,
			})
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return classifyStoreError(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	logger.Info().Uint("team_id", team.ID).Uint("manager_id", team.ManagerID).Int("members", len(req.MemberIDs)).Msg("[Roster] team created")
	LogInfo("roster", "create_team", fmt.Sprintf("Team %q created", team.Name), &actorID, "", "", map[string]interface{}{
		"team_id": team.ID, "manager_id": team.ManagerID, "member_ids": req.MemberIDs,
	})
	s.publish("created", &team)
	s.enqueue(&NotificationJob{Type: TaskTypeTeamCreated, TeamID: team.ID, ActorID: actorID})

	return s.GetTeam(ctx, team.ID)
}

// EditTeam replaces the roster and optionally hands the team to a new
// manager. The previous manager is demoted and kept on the roster.
func (s *RosterService) EditTeam(ctx context.Context, teamID uint, req *EditTeamRequest, actorID uint) (*models.Team, error) {
	const op = "editTeam"

	if err := checkDistinct(op, req.MemberIDs); err != nil {
		return nil, err
	}

	var updated models.Team
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var team models.Team
		if err := tx.Preload("Members").First(&team, teamID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if req.Version != 0 && req.Version != team.Version {
			return conflictError(op, "team %d was modified (version %d, expected %d)", team.ID, team.Version, req.Version)
		}

		oldManagerID := team.ManagerID
		newManagerID := oldManagerID
		if req.ManagerID != nil {
			newManagerID = *req.ManagerID
		}
		managerChanged := newManagerID != oldManagerID

		memberIDs := req.MemberIDs
		if memberIDs == nil {
			memberIDs = team.MemberIDs()
		}
		if managerChanged {
			// Promoting someone from the roster takes them off it.
			memberIDs = without(memberIDs, newManagerID)
			if !contains(memberIDs, oldManagerID) {
				memberIDs = append(memberIDs, oldManagerID)
			}
		} else if contains(memberIDs, newManagerID) {
			return validationError(op, "member list must not contain the project manager")
		}
		if s.cfg.RequireMembers && len(memberIDs) == 0 {
			return validationError(op, "a team needs at least one member")
		}

		var newManager *models.User
		if managerChanged {
			var err error
			newManager, err = loadUser(tx, op, newManagerID)
			if err != nil {
				return err
			}
			if newManager.Role != models.RoleMember && newManager.Role != models.RoleProjectManager {
				return validationError(op, "user %d has role %s and cannot lead a team", newManager.ID, newManager.Role)
			}
			if err := ensureNotManaging(tx, op, newManagerID, team.ID); err != nil {
				return err
			}
			if err := ensureNotRostered(tx, op, []uint{newManagerID}, team.ID); err != nil {
				return err
			}
		}

		exempt := map[uint]bool{}
		if managerChanged {
			exempt[oldManagerID] = true
		}
		if err := validateMembers(tx, op, memberIDs, exempt); err != nil {
			return err
		}
		if err := ensureNotRostered(tx, op, memberIDs, team.ID); err != nil {
			return err
		}
		if err := validateAdviser(tx, op, req.AdviserID); err != nil {
			return err
		}

		name := team.Name
		switch {
		case req.Name != nil && strings.TrimSpace(*req.Name) != "":
			name = strings.TrimSpace(*req.Name)
		case managerChanged:
			name = s.defaultName(newManager)
		}

		if managerChanged {
			if err := setRole(tx, op, oldManagerID, models.RoleMember); err != nil {
				return err
			}
			if err := setRole(tx, op, newManagerID, models.RoleProjectManager); err != nil {
				return err
			}
		}

		if err := tx.Where("team_id = ?", team.ID).Delete(&models.TeamMember{}).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if err := insertRoster(tx, op, team.ID, memberIDs); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"name":       name,
			"manager_id": newManagerID,
			"version":    team.Version + 1,
		}
		if req.AdviserID != nil {
			updates["adviser_id"] = *req.AdviserID
		}
		res := tx.Model(&models.Team{}).Where("id = ? AND version = ?", team.ID, team.Version).Updates(updates)
		if res.Error != nil {
			return classifyStoreError(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictError(op, "team %d was modified concurrently", team.ID)
		}

		return tx.Preload("Members").First(&updated, team.ID).Error
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	LogInfo("roster", "edit_team", fmt.Sprintf("Team %q updated", updated.Name), &actorID, "", "", map[string]interface{}{
		"team_id": updated.ID, "manager_id": updated.ManagerID, "member_ids": updated.MemberIDs(),
	})
	s.publish("updated", &updated)
	return &updated, nil
}

// DissolveTeam demotes the manager and removes the team with everything it
// owns. With cascade_batch_size > 0 the dependents are removed in separate
// batch commits first and the team row last, so a failed run can simply be
// repeated.
func (s *RosterService) DissolveTeam(ctx context.Context, teamID uint, actorID uint) error {
	const op = "dissolveTeam"

	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, teamID).Error; err != nil {
		return classifyStoreError(op, err)
	}

	if batch := s.cfg.CascadeBatchSize; batch > 0 {
		for _, model := range dependentModels() {
			if err := s.deleteInBatches(ctx, op, model, team.ID, batch); err != nil {
				return err
			}
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ? AND role = ?", team.ManagerID, models.RoleProjectManager).
			Update("role", models.RoleMember).Error; err != nil {
			return classifyStoreError(op, err)
		}
		for _, model := range dependentModels() {
			if err := tx.Where("team_id = ?", team.ID).Delete(model).Error; err != nil {
				return classifyStoreError(op, err)
			}
		}
		res := tx.Delete(&models.Team{}, team.ID)
		if res.Error != nil {
			return classifyStoreError(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return notFoundError(op, "team %d no longer exists", team.ID)
		}
		return nil
	})
	if err != nil {
		return classifyStoreError(op, err)
	}

	logger.Info().Uint("team_id", team.ID).Uint("manager_id", team.ManagerID).Msg("[Roster] team dissolved")
	LogInfo("roster", "dissolve_team", fmt.Sprintf("Team %q dissolved", team.Name), &actorID, "", "", map[string]interface{}{
		"team_id": team.ID, "manager_id": team.ManagerID,
	})
	s.events.Publish(ChangeEvent{Entity: "team", Action: "deleted", ID: team.ID, TeamID: team.ID})
	return nil
}

// dependentModels lists every table whose rows are owned by a team.
func dependentModels() []interface{} {
	return []interface{}{&models.Task{}, &models.MilestoneRecord{}, &models.TeamMember{}}
}

func (s *RosterService) deleteInBatches(ctx context.Context, op string, model interface{}, teamID uint, batch int) error {
	for {
		var ids []uint
		if err := s.db.WithContext(ctx).Model(model).Where("team_id = ?", teamID).
			Order("id").Limit(batch).Pluck("id", &ids).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if len(ids) == 0 {
			return nil
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Where("id IN ?", ids).Delete(model).Error
		})
		if err != nil {
			return classifyStoreError(op, err)
		}
	}
}

// TransferMember moves a member between rosters in one commit. Repeating a
// transfer that already happened succeeds without writing.
func (s *RosterService) TransferMember(ctx context.Context, req *TransferMemberRequest, actorID uint) error {
	const op = "transferMember"

	if req.FromTeamID == req.ToTeamID {
		return validationError(op, "source and destination team are the same")
	}

	moved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var from, to models.Team
		if err := tx.First(&from, req.FromTeamID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if err := tx.First(&to, req.ToTeamID).Error; err != nil {
			return classifyStoreError(op, err)
		}

		var entry models.TeamMember
		if err := tx.Where("user_id = ?", req.MemberID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return conflictError(op, "user %d is not on any team roster", req.MemberID)
			}
			return classifyStoreError(op, err)
		}
		switch entry.TeamID {
		case to.ID:
			return nil
		case from.ID:
		default:
			return conflictError(op, "user %d is on team %d, not team %d", req.MemberID, entry.TeamID, from.ID)
		}

		if s.cfg.RequireMembers {
			var remaining int64
			if err := tx.Model(&models.TeamMember{}).Where("team_id = ?", from.ID).Count(&remaining).Error; err != nil {
				return classifyStoreError(op, err)
			}
			if remaining <= 1 {
				return validationError(op, "team %d would be left without members", from.ID)
			}
		}

		if err := tx.Model(&entry).Update("team_id", to.ID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		for _, id := range []uint{from.ID, to.ID} {
			if err := tx.Model(&models.Team{}).Where("id = ?", id).
				UpdateColumn("version", gorm.Expr("version + 1")).Error; err != nil {
				return classifyStoreError(op, err)
			}
		}
		moved = true
		return nil
	})
	if err != nil {
		return classifyStoreError(op, err)
	}
	if !moved {
		return nil
	}

	LogInfo("roster", "transfer_member", fmt.Sprintf("User %d moved from team %d to team %d", req.MemberID, req.FromTeamID, req.ToTeamID), &actorID, "", "", nil)
	s.events.Publish(ChangeEvent{Entity: "team", Action: "updated", ID: req.FromTeamID, TeamID: req.FromTeamID})
	s.events.Publish(ChangeEvent{Entity: "team", Action: "updated", ID: req.ToTeamID, TeamID: req.ToTeamID})
	return nil
}

func (s *RosterService) defaultName(manager *models.User) string {
	surname := strings.TrimSpace(manager.LastName)
	if surname == "" {
		surname = manager.Username
	}
	return surname + s.cfg.TeamNameSuffix
}

func (s *RosterService) publish(action string, team *models.Team) {
	s.events.Publish(ChangeEvent{Entity: "team", Action: action, ID: team.ID, TeamID: team.ID, Version: team.Version})
}

func (s *RosterService) enqueue(job *NotificationJob) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		logger.Warn().Err(err).Str("type", job.Type).Msg("[Roster] failed to enqueue notification")
	}
}

func loadUser(tx *gorm.DB, op string, id uint) (*models.User, error) {
	var u models.User
	if err := tx.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationError(op, "user %d does not exist", id)
		}
		return nil, classifyStoreError(op, err)
	}
	return &u, nil
}

func setRole(tx *gorm.DB, op string, userID uint, role models.Role) error {
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("role", role).Error; err != nil {
		return classifyStoreError(op, err)
	}
	return nil
}

// ensureNotManaging fails when userID already manages a team other than exceptTeamID.
func ensureNotManaging(tx *gorm.DB, op string, userID, exceptTeamID uint) error {
	var existing models.Team
	err := tx.Where("manager_id = ? AND id <> ?", userID, exceptTeamID).First(&existing).Error
	if err == nil {
		return conflictError(op, "user %d already manages team %d", userID, existing.ID)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return classifyStoreError(op, err)
}

// ensureNotRostered fails when any of userIDs sits on a team other than exceptTeamID.
func ensureNotRostered(tx *gorm.DB, op string, userIDs []uint, exceptTeamID uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	var entries []models.TeamMember
	if err := tx.Where("user_id IN ? AND team_id <> ?", userIDs, exceptTeamID).Find(&entries).Error; err != nil {
		return classifyStoreError(op, err)
	}
	if len(entries) > 0 {
		return conflictError(op, "user %d is already on team %d", entries[0].UserID, entries[0].TeamID)
	}
	return nil
}

// validateMembers requires every id to exist with the member role, except
// ids in exempt whose role is about to be reset in the same commit.
func validateMembers(tx *gorm.DB, op string, ids []uint, exempt map[uint]bool) error {
	if len(ids) == 0 {
		return nil
	}
	var users []models.User
	if err := tx.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return classifyStoreError(op, err)
	}
	if len(users) != len(ids) {
		found := make(map[uint]bool, len(users))
		for _, u := range users {
			found[u.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return validationError(op, "user %d does not exist", id)
			}
		}
	}
	for _, u := range users {
		if u.Role != models.RoleMember && !exempt[u.ID] {
			return validationError(op, "user %d has role %s and cannot be a team member", u.ID, u.Role)
		}
	}
	return nil
}

func validateAdviser(tx *gorm.DB, op string, adviserID *uint) error {
	if adviserID == nil {
		return nil
	}
	u, err := loadUser(tx, op, *adviserID)
	if err != nil {
		return err
	}
	if u.Role != models.RoleAdviser {
		return validationError(op, "user %d is not an adviser", u.ID)
	}
	return nil
}

func checkDistinct(op string, ids []uint) error {
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if id == 0 {
			return validationError(op, "member id must be positive")
		}
		if seen[id] {
			return validationError(op, "member %d listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

func insertRoster(tx *gorm.DB, op string, teamID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	roster := make([]models.TeamMember, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, models.TeamMember{TeamID: teamID, UserID: id})
	}
	if err := tx.Create(&roster).Error; err != nil {
		return classifyStoreError(op, err)
	}
	return nil
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []uint, id uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
