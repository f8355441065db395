package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/database"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	tables map[string][]map[string]interface{}
	order  []string
	broken string
}

func (f *fakeSource) GetTableNames(context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeSource) GetTableData(_ context.Context, name string) ([]map[string]interface{}, []string, error) {
	if name == f.broken {
		return nil, nil, errors.New("no such table")
	}
	return f.tables[name], []string{"id", "name"}, nil
}

func readBook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExportWritesOneSheetPerTable(t *testing.T) {
	src := &fakeSource{
		order: []string{"users", "missing", "bookings"},
		tables: map[string][]map[string]interface{}{
			"users":    {{"id": int64(1), "name": []byte("alice")}, {"id": int64(2), "name": nil}},
			"bookings": {},
		},
		broken: "missing",
	}

	var buf bytes.Buffer
	summary, err := NewExporter(src, nil).Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"users": 2, "bookings": 0}, summary.Tables)

	book := readBook(t, buf.Bytes())
	assert.Equal(t, []string{"users", "bookings"}, book.GetSheetList())

	rows, err := book.GetRows("users")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "name"}, rows[0])
	assert.Equal(t, []string{"1", "alice"}, rows[1])
	assert.Equal(t, "2", rows[2][0])
}

func TestExportFailsWithoutTables(t *testing.T) {
	_, err := NewExporter(&fakeSource{}, nil).Export(context.Background(), io.Discard)
	assert.Error(t, err)

	src := &fakeSource{order: []string{"missing"}, broken: "missing"}
	_, err = NewExporter(src, nil).Export(context.Background(), io.Discard)
	assert.Error(t, err)
}

func TestExportDatabase(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "slotbook.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	u := &models.User{Username: "alice", PasswordHash: "secret-hash", Email: "alice@example.com", FullName: "Alice A"}
	require.NoError(t, db.CreateUser(ctx, u))
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	slot := &models.TimeSlot{StartTime: start, EndTime: start.Add(time.Hour), Description: "Dr. Smith", Available: true}
	require.NoError(t, db.CreateSlot(ctx, slot))

	now := time.Date(2026, 11, 1, 12, 30, 0, 0, time.UTC)
	path, summary, err := NewExporter(db, &logger).ExportToFile(ctx, filepath.Join(t.TempDir(), "exports"), now)
	require.NoError(t, err)
	assert.Equal(t, "slotbook_audit_20261101_123000.xlsx", filepath.Base(path))
	assert.Equal(t, 1, summary.Tables["users"])
	assert.Equal(t, 1, summary.Tables["time_slots"])
	assert.Equal(t, 0, summary.Tables["bookings"])

	book, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("users")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotContains(t, rows[0], "password_hash")
	assert.Contains(t, rows[1], "alice")
}
