package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "artwork.db")
	cfg := config.DatabaseConfig{Type: "sqlite", DatabasePath: path, MaxOpenConns: 1}

	db, err := Open(cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, Ping(context.Background(), db))
	assert.FileExists(t, path)
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "mysql"}, hclog.NewNullLogger())
	assert.Error(t, err)

	_, err = Open(config.DatabaseConfig{Type: "sqlite"}, hclog.NewNullLogger())
	assert.Error(t, err)
}

func TestOpen_PostgresDialector(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	// gorm pings on open, then Ping pings again
	mock.ExpectPing()
	mock.ExpectPing()

	dialector := postgres.New(postgres.Config{Conn: sqlDB})
	db, err := open(dialector, config.DatabaseConfig{Type: "postgres", MaxOpenConns: 4}, hclog.NewNullLogger())
	require.NoError(t, err)

	require.NoError(t, Ping(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
