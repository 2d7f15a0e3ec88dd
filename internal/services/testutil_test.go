package services

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(os.Stderr, zerolog.Disabled)
	os.Exit(m.Run())
}

// setupTestDB opens a private in-memory SQLite database with the schema
// migrated. A single connection keeps every statement on the same database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, gormlogger.Silent)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.Seed(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func createUser(t *testing.T, db *gorm.DB, username, lastName string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Username:  username,
		Email:     username + "@example.edu",
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		LastName:  lastName,
		Role:      role,
		AuthType:  "local",
		IsActive:  true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *models.User {
	t.Helper()
	var u models.User
	if err := db.First(&u, id).Error; err != nil {
		t.Fatalf("reload user %d: %v", id, err)
	}
	return &u
}

func reloadTask(t *testing.T, db *gorm.DB, id uint) *models.Task {
	t.Helper()
	var task models.Task
	if err := db.First(&task, id).Error; err != nil {
		t.Fatalf("reload task %d: %v", id, err)
	}
	return &task
}

// fixedClock returns a clock frozen at the given instant.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type recordingQueue struct {
	jobs []NotificationJob
}

func (q *recordingQueue) Enqueue(job *NotificationJob) error {
	q.jobs = append(q.jobs, *job)
	return nil
}
func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

type recordingMailer struct {
	to      [][]string
	subject []string
}

func (m *recordingMailer) Send(to []string, subject, body string) error {
	m.to = append(m.to, to)
	m.subject = append(m.subject, subject)
	return nil
}
