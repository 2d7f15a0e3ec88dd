package services

import (
	"context"
	"strings"

	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/utils"
	"gorm.io/gorm"
)

// UserService manages accounts. The project_manager role is never set here:
// it follows team management and is owned by RosterService.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

type CreateUserRequest struct {
	Username  string      `json:"username" binding:"required"`
	Password  string      `json:"password" binding:"required,min=6"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name" binding:"required"`
	Role      models.Role `json:"role"`
}

type UserListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	Username   string `form:"username"`
	Role       string `form:"role"`
	Unassigned bool   `form:"unassigned"`
}

type UserListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.User `json:"items"`
}

type UpdateUserRequest struct {
	Role      *models.Role `json:"role"`
	IsActive  *bool        `json:"is_active"`
	FirstName *string      `json:"first_name"`
	LastName  *string      `json:"last_name"`
}

func (s *UserService) Create(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	const op = "createUser"

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, validationError(op, "username is required")
	}
	if strings.TrimSpace(req.LastName) == "" {
		return nil, validationError(op, "last name is required")
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() || role == models.RoleProjectManager {
		return nil, validationError(op, "role must be member, adviser or instructor")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username:  username,
		Password:  hashed,
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      role,
		AuthType:  "local",
		IsActive:  true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	return &user, nil
}

// List pages through accounts. Unassigned limits the result to users who
// neither manage nor belong to a team, which is what the team form offers.
func (s *UserService) List(ctx context.Context, req *UserListRequest) (*UserListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if req.Username != "" {
		like := "%" + req.Username + "%"
		query = query.Where("username LIKE ? OR first_name LIKE ? OR last_name LIKE ?", like, like, like)
	}
	if req.Role != "" {
		role, err := models.ParseRole(req.Role)
		if err != nil {
			return nil, validationError("listUsers", "%v", err)
		}
		query = query.Where("role = ?", role)
	}
	if req.Unassigned {
		query = query.
			Where("id NOT IN (?)", s.db.Model(&models.Team{}).Select("manager_id")).
			Where("id NOT IN (?)", s.db.Model(&models.TeamMember{}).Select("user_id"))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, classifyStoreError("listUsers", err)
	}
	var users []models.User
	if err := query.Order("last_name, first_name, id").
		Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).
		Find(&users).Error; err != nil {
		return nil, classifyStoreError("listUsers", err)
	}

	return &UserListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: users}, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, classifyStoreError("getUser", err)
	}
	return &user, nil
}

func (s *UserService) Update(ctx context.Context, id uint, req *UpdateUserRequest, actorID uint) (*models.User, error) {
	const op = "updateUser"

	if id == actorID && (req.Role != nil || req.IsActive != nil) {
		return nil, validationError(op, "cannot change the role or status of your own account")
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return classifyStoreError(op, err)
		}

		updates := map[string]interface{}{}
		if req.Role != nil && *req.Role != user.Role {
			if !req.Role.Valid() || *req.Role == models.RoleProjectManager {
				return validationError(op, "role must be member, adviser or instructor")
			}
			if err := ensureRoleChangeable(tx, op, &user); err != nil {
				return err
			}
			updates["role"] = *req.Role
		}
		if req.IsActive != nil {
			updates["is_active"] = *req.IsActive
		}
		if req.FirstName != nil {
			updates["first_name"] = strings.TrimSpace(*req.FirstName)
		}
		if req.LastName != nil {
			last := strings.TrimSpace(*req.LastName)
			if last == "" {
				return validationError(op, "last name is required")
			}
			updates["last_name"] = last
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return classifyStoreError(op, err)
		}
		return tx.First(&user, id).Error
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	return &user, nil
}

// Delete soft-deletes an account that holds no place in any team.
func (s *UserService) Delete(ctx context.Context, id uint, actorID uint) error {
	const op = "deleteUser"

	if id == actorID {
		return validationError(op, "cannot delete your own account")
	}
	return classifyStoreError(op, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if err := ensureRoleChangeable(tx, op, &user); err != nil {
			return err
		}
		return tx.Delete(&user).Error
	}))
}

// ensureRoleChangeable refuses while the user manages, belongs to or advises
// a team.
func ensureRoleChangeable(tx *gorm.DB, op string, user *models.User) error {
	checks := []struct {
		model interface{}
		where string
		what  string
	}{
		{&models.Team{}, "manager_id = ?", "manages"},
		{&models.TeamMember{}, "user_id = ?", "belongs to"},
		{&models.Team{}, "adviser_id = ?", "advises"},
	}
	for _, c := range checks {
		var n int64
		if err := tx.Model(c.model).Where(c.where, user.ID).Count(&n).Error; err != nil {
			return classifyStoreError(op, err)
		}
		if n > 0 {
			return conflictError(op, "%s %s a team", user.Username, c.what)
		}
	}
	return nil
}
