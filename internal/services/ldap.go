package services

import (
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/capstrack/internal/config"
)

type LDAPService struct {
	config *config.LDAPConfig
}

func NewLDAPService(cfg *config.LDAPConfig) *LDAPService {
	return &LDAPService{config: cfg}
}

func (s *LDAPService) IsEnabled() bool {
	return s.config != nil && s.config.Enabled && s.config.Host != ""
}

// Authenticate looks the user up with the service account, then binds as that
// user to check the password.
func (s *LDAPService) Authenticate(username, password string) (*LDAPUser, error) {
	if s.config == nil || s.config.Host == "" {
		return nil, fmt.Errorf("LDAP is not configured")
	}
	if password == "" {
		return nil, fmt.Errorf("empty password")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var conn *ldap.Conn
	var err error
	if s.config.UseSSL {
		conn, err = ldap.DialURL("ldaps://"+addr, ldap.DialWithTLSConfig(&tls.Config{ServerName: s.config.Host}))
	} else {
		conn, err = ldap.DialURL("ldap://" + addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	defer conn.Close()

	if s.config.BindDN != "" {
		if err := conn.Bind(s.config.BindDN, s.config.BindPassword); err != nil {
			return nil, fmt.Errorf("failed to bind with service account: %w", err)
		}
	}

	searchRequest := ldap.NewSearchRequest(
		s.config.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf(s.config.UserFilter, ldap.EscapeFilter(username)),
		[]string{"dn", "cn", "mail", "uid", "sAMAccountName"},
		nil,
	)
	result, err := conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("LDAP search failed: %w", err)
	}
	switch len(result.Entries) {
	case 0:
		return nil, fmt.Errorf("user not found in LDAP")
	case 1:
	default:
		return nil, fmt.Errorf("multiple users found in LDAP")
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	user := &LDAPUser{
		DN:          entry.DN,
		Username:    entry.GetAttributeValue("uid"),
		Email:       entry.GetAttributeValue("mail"),
		DisplayName: entry.GetAttributeValue("cn"),
	}
	// Active Directory has no uid.
	if user.Username == "" {
		user.Username = entry.GetAttributeValue("sAMAccountName")
	}
	return user, nil
}

type LDAPUser struct {
	DN          string
	Username    string
	Email       string
	DisplayName string
}
