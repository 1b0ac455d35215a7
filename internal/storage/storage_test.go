package storage

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestFileStoreRecentAudit(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "amd.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i, action := range []string{"toggle_exclusion", "set_log_level", "toggle_exclusion"} {
		require.NoError(t, st.AppendAudit(ctx, AuditEntry{
			At:      time.Unix(int64(i), 0).UTC(),
			ActorID: "42",
			Action:  action,
			OK:      true,
		}))
	}

	got, err := st.RecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.Unix(2, 0).UTC(), got[0].At)
	assert.Equal(t, "set_log_level", got[1].Action)

	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendAudit(ctx, AuditEntry{}), ErrDisabled)
}

func TestSQLiteAppendAndRecent(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit").WillReturnResult(sqlmock.NewResult(0, 0))
	st, err := newSQLiteStore(ctx, db, logx.Nop())
	require.NoError(t, err)

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit(")).
		WithArgs(at.Format(time.RFC3339Nano), "42", "owner", nil, "c1", "toggle_exclusion", "1001", 1, nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{
		At: at, ActorID: "42", ActorName: "owner", ChannelID: "c1",
		Action: "toggle_exclusion", Target: "1001", OK: true, TookMS: 3,
	}))

	rows := sqlmock.NewRows([]string{"at", "actor_id", "actor_name", "guild_id", "channel_id", "action", "target", "ok", "err", "took_ms"}).
		AddRow(at.Format(time.RFC3339Nano), "42", "owner", nil, "c1", "set_log_level", "DEBUG", 0, "unknown level", 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit ORDER BY id DESC LIMIT ?")).WithArgs(5).WillReturnRows(rows)

	got, err := st.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "set_log_level", got[0].Action)
	assert.False(t, got[0].OK)
	assert.Equal(t, "unknown level", got[0].Error)
	assert.True(t, at.Equal(got[0].At))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMigrationFailure(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("disk I/O error"))
	_, err = newSQLiteStore(context.Background(), db, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate audit schema")
}
