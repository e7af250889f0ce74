// Package dbtest opens throwaway sqlite databases carrying the application schema.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlite rendition of pkg/migrate/migrations. Enum columns become TEXT and
// LEAST/GREATEST become the scalar min/max.
var schema = []string{
	`CREATE TABLE auth_identities (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  metadata TEXT NOT NULL DEFAULT '{}',
  email_confirmed_at DATETIME,
  last_sign_in_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX idx_auth_identities_email ON auth_identities (lower(email))`,
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  bio TEXT,
  avatar_url TEXT,
  time_zone TEXT NOT NULL DEFAULT 'UTC',
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX idx_users_email ON users (lower(email))`,
	`CREATE TABLE pending_invitations (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  inviter_id TEXT NOT NULL,
  token TEXT NOT NULL,
  agreement TEXT NOT NULL DEFAULT '{}',
  message TEXT,
  status TEXT NOT NULL DEFAULT 'sent',
  expires_at DATETIME NOT NULL,
  partnership_id TEXT,
  accepted_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX idx_pending_invitations_token ON pending_invitations (token)`,
	`CREATE UNIQUE INDEX idx_pending_invitations_open_pair ON pending_invitations (inviter_id, lower(email)) WHERE status = 'sent'`,
	`CREATE TABLE partnerships (
  id TEXT PRIMARY KEY,
  user1_id TEXT NOT NULL,
  user2_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  trial_end_date DATETIME,
  agreement TEXT NOT NULL DEFAULT '{}',
  message TEXT,
  invitation_id TEXT,
  ended_by TEXT,
  status_changed_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT partnerships_distinct_members CHECK (user1_id <> user2_id),
  CONSTRAINT partnerships_trial_end_set CHECK (status = 'pending' OR trial_end_date IS NOT NULL)
)`,
	`CREATE UNIQUE INDEX idx_partnerships_open_pair ON partnerships (min(user1_id, user2_id), max(user1_id, user2_id)) WHERE status <> 'ended'`,
	`CREATE TABLE goals (
  id TEXT PRIMARY KEY,
  partnership_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  start_date DATETIME NOT NULL,
  target_date DATETIME,
  closed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX idx_goals_one_active ON goals (partnership_id, user_id) WHERE status = 'active'`,
	`CREATE TABLE check_ins (
  id TEXT PRIMARY KEY,
  partnership_id TEXT NOT NULL,
  created_by TEXT NOT NULL,
  scheduled_at DATETIME NOT NULL,
  duration_minutes INTEGER NOT NULL DEFAULT 30,
  notes TEXT,
  status TEXT NOT NULL DEFAULT 'scheduled',
  completed_at DATETIME,
  cancelled_at DATETIME,
  reminder_sent_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT check_ins_duration_range CHECK (duration_minutes BETWEEN 5 AND 240)
)`,
	`CREATE TABLE messages (
  id TEXT PRIMARY KEY,
  partnership_id TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  content TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME
)`,
	`CREATE TABLE progress_updates (
  id TEXT PRIMARY KEY,
  goal_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  description TEXT NOT NULL,
  value TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  partnership_id TEXT,
  read_at DATETIME,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE UNIQUE INDEX ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id)
  WHERE event_type IN ('partnership_trial_ending_soon', 'checkin_reminder', 'invitation_expired')`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
	`CREATE UNIQUE INDEX idx_outbox_dlq_event ON outbox_dlq (event_id)`,
}

// Open returns an isolated in-memory database with every application table.
// The pool is pinned to one connection, so code under test must route every
// query inside a transaction through that transaction.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=UTC", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error, stmt)
	}
	return conn
}
