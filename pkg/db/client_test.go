package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/logger"
)

type note struct {
	ID   int
	Body string
}

func openSQLite(t *testing.T, cfg *gorm.Config) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), cfg)
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&note{}))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func countNotes(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&note{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOrRollsBack(t *testing.T) {
	conn := openSQLite(t, &gorm.Config{SkipDefaultTransaction: true})
	client := FromConn(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&note{Body: "kept"}).Error
	}))
	assert.EqualValues(t, 1, countNotes(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&note{Body: "dropped"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.EqualValues(t, 1, countNotes(t, conn))

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			tx.Create(&note{Body: "panicked"})
			panic("handler bug")
		})
	})
	assert.EqualValues(t, 1, countNotes(t, conn))
}

func TestPingAndFromConn(t *testing.T) {
	conn := openSQLite(t, &gorm.Config{})
	client := FromConn(conn)

	assert.Same(t, conn, client.DB())
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.EqualError(t, err, "database DSN is required")
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &out})
	conn := openSQLite(t, &gorm.Config{Logger: newQueryLogger(logg, time.Nanosecond)})

	require.NoError(t, conn.Create(&note{Body: "slow"}).Error)
	assert.Contains(t, out.String(), `"message":"db.query_slow"`)
	assert.Contains(t, out.String(), `"sql":"INSERT INTO`)

	out.Reset()
	require.Error(t, conn.Exec("SELECT * FROM missing_table").Error)
	assert.Contains(t, out.String(), `"message":"db.query_failed"`)

	out.Reset()
	var missing note
	quiet := conn.Session(&gorm.Session{Logger: newQueryLogger(logg, 0)})
	assert.ErrorIs(t, quiet.First(&missing, 999).Error, gorm.ErrRecordNotFound)
	assert.Empty(t, out.String())

	out.Reset()
	silent := conn.Session(&gorm.Session{Logger: newQueryLogger(logg, time.Nanosecond).LogMode(gormlogger.Silent)})
	require.NoError(t, silent.Create(&note{Body: "silent"}).Error)
	assert.NotContains(t, out.String(), "db.query")
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "partnerships_open_pair_idx"}
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", pgErr), "partnerships_open_pair_idx"))
	assert.False(t, IsUniqueViolation(pgErr, "goals_one_active_idx"))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: partnerships.user1_id"), ""))
	assert.False(t, IsUniqueViolation(errors.New("connection refused"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}
