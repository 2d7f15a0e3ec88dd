package services

import (
	"errors"
	"strings"
	"time"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/utils"
	"github.com/huangang/capstrack/pkg/logger"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is returned for any failed login, whatever the cause.
var ErrInvalidCredentials = errors.New("invalid username or password")

var errUserDisabled = errors.New("user is disabled")

type AuthService struct {
	db          *gorm.DB
	ldapService *LDAPService
	jwtConfig   *config.JWTConfig
	configSvc   *SystemConfigService
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, ldapCfg *config.LDAPConfig) *AuthService {
	return &AuthService{
		db:          db,
		ldapService: NewLDAPService(ldapCfg),
		jwtConfig:   jwtCfg,
		configSvc:   NewSystemConfigService(db),
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	AuthType string `json:"auth_type"` // local, ldap
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

// Login authenticates a user and returns a signed token carrying the role.
func (s *AuthService) Login(req *LoginRequest) (*LoginResponse, error) {
	var user *models.User
	var err error

	if req.AuthType == "" {
		req.AuthType = "local"
	}

	switch req.AuthType {
	case "local":
		user, err = s.localAuth(req.Username, req.Password)
	case "ldap":
		if !s.IsLDAPEnabled() {
			return nil, validationError("login", "LDAP authentication is disabled")
		}
		user, err = s.ldapAuth(req.Username, req.Password)
	default:
		return nil, validationError("login", "invalid auth type %q", req.AuthType)
	}
	if err != nil {
		return nil, err
	}

	hours := s.jwtConfig.ExpireHour
	if hours <= 0 {
		hours = 24
	}
	token, err := utils.GenerateToken(user.ID, user.Username, string(user.Role), hours)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	if err := s.db.Model(user).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] failed to record last login")
	}

	LogInfo("auth", "login", "User "+user.Username+" logged in", &user.ID, "", "", nil)
	return &LoginResponse{
		Token:    token,
		User:     user,
		ExpireAt: now.Add(time.Duration(hours) * time.Hour),
	}, nil
}

func (s *AuthService) localAuth(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ? AND auth_type = ?", username, "local").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, errUserDisabled
	}
	if !utils.CheckPassword(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// ldapAuth binds against the directory and mirrors the entry into a local
// member account on first login.
func (s *AuthService) ldapAuth(username, password string) (*models.User, error) {
	ldapUser, err := s.ldapService.Authenticate(username, password)
	if err != nil {
		logger.Warn().Err(err).Str("username", username).Msg("[Auth] LDAP authentication failed")
		return nil, ErrInvalidCredentials
	}

	first, last := splitName(ldapUser.DisplayName)
	var user models.User
	err = s.db.Where("username = ? AND auth_type = ?", ldapUser.Username, "ldap").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Username:  ldapUser.Username,
			Email:     ldapUser.Email,
			FirstName: first,
			LastName:  last,
			Role:      models.RoleMember,
			AuthType:  "ldap",
			IsActive:  true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	} else if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, errUserDisabled
	}

	updates := map[string]interface{}{"email": ldapUser.Email}
	if first != "" || last != "" {
		updates["first_name"] = first
		updates["last_name"] = last
	}
	if err := s.db.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// splitName treats the last word of a directory display name as the surname.
func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, classifyStoreError("getUser", err)
	}
	return &user, nil
}

// CreateAdminIfNotExists creates the bootstrap instructor account on an empty
// install.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", models.RoleInstructor).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword("admin")
	if err != nil {
		return err
	}
	admin := models.User{
		Username:  "admin",
		Password:  hashedPassword,
		FirstName: "Course",
		LastName:  "Instructor",
		Role:      models.RoleInstructor,
		AuthType:  "local",
		IsActive:  true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warn().Msg("[Auth] created default instructor account admin/admin, change the password")
	return nil
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.ldapService.IsEnabled() || s.configSvc.GetBool("ldap_enabled", false)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	const op = "changePassword"

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return classifyStoreError(op, err)
	}
	if user.AuthType != "local" {
		return validationError(op, "LDAP users cannot change password here")
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return validationError(op, "incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.Model(&user).Update("password", hashedPassword).Error
}
