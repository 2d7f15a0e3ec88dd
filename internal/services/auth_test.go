package services

import (
	"errors"
	"testing"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/utils"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	utils.SetJWTSecret("test-secret-for-auth")
	db := setupTestDB(t)
	return NewAuthService(db, &config.JWTConfig{ExpireHour: 2}, &config.LDAPConfig{})
}

func TestCreateAdminIfNotExists(t *testing.T) {
	svc := newAuthService(t)

	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("second CreateAdminIfNotExists() error = %v", err)
	}

	var admins []models.User
	svc.db.Where("role = ?", models.RoleInstructor).Find(&admins)
	if len(admins) != 1 || admins[0].Username != "admin" {
		t.Errorf("instructors = %+v, expected a single admin", admins)
	}
}

func TestLogin_Local(t *testing.T) {
	svc := newAuthService(t)
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}

	resp, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := utils.ParseToken(resp.Token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Role != string(models.RoleInstructor) || claims.UserID != resp.User.ID {
		t.Errorf("claims = %+v", claims)
	}
	if reloadUser(t, svc.db, resp.User.ID).LastLogin == nil {
		t.Error("LastLogin should be recorded")
	}
}

func TestLogin_Failures(t *testing.T) {
	svc := newAuthService(t)
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}

	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "ghost", Password: "admin"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin", AuthType: "kerberos"}); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown auth type: got %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin", AuthType: "ldap"}); !errors.Is(err, ErrValidation) {
		t.Errorf("ldap while disabled: got %v", err)
	}

	svc.db.Model(&models.User{}).Where("username = ?", "admin").Update("is_active", false)
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin"}); err == nil {
		t.Error("disabled user should not log in")
	}
}

func TestChangePassword(t *testing.T) {
	svc := newAuthService(t)
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	resp, _ := svc.Login(&LoginRequest{Username: "admin", Password: "admin"})

	err := svc.ChangePassword(resp.User.ID, &ChangePasswordRequest{OldPassword: "wrong", NewPassword: "s3cret!"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("wrong old password: got %v", err)
	}
	if err := svc.ChangePassword(resp.User.ID, &ChangePasswordRequest{OldPassword: "admin", NewPassword: "s3cret!"}); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "s3cret!"}); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"", "", ""},
		{"Reyes", "", "Reyes"},
		{"Ana Reyes", "Ana", "Reyes"},
		{"Maria Clara  de la Cruz", "Maria Clara de la", "Cruz"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q; expected %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}
