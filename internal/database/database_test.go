package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cityshift/internal/config"
	"cityshift/internal/models"
	"cityshift/internal/shift"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addWorker(t *testing.T, db *DB, tgID int64, city string) *models.Worker {
	t.Helper()
	w := &models.Worker{TelegramID: tgID, Language: "en", Country: "PL", City: city}
	require.NoError(t, db.CreateWorker(context.Background(), w))
	return w
}

func mustParse(t *testing.T, s string) shift.ShiftSet {
	t.Helper()
	set, err := shift.Parse(s)
	require.NoError(t, err)
	return set
}

func TestWorkers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w := addWorker(t, db, 100, "Kraków")
	assert.NotZero(t, w.ID)
	addWorker(t, db, 101, "Kraków")
	addWorker(t, db, 102, "Gdańsk")

	err := db.CreateWorker(ctx, &models.Worker{TelegramID: 100, Language: "en", Country: "PL", City: "Opole"})
	assert.ErrorIs(t, err, ErrWorkerExists)

	got, err := db.GetWorkerByTelegramID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Kraków", got.City)

	_, err = db.GetWorkerByTelegramID(ctx, 999)
	assert.ErrorIs(t, err, ErrWorkerNotFound)

	n, err := db.CountWorkersInCity(ctx, "Kraków")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cities, err := db.ListDistinctCities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gdańsk", "Kraków"}, cities)

	workers, err := db.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 3)
}

func TestSaveAndFindShiftSet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w := addWorker(t, db, 200, "Warszawa")

	set := mustParse(t, "09:00-11:00, 15:00-20:00")
	require.NoError(t, db.SaveShiftSet(ctx, w.ID, "2025-01-15", set))

	got, ok, err := db.FindShiftSet(ctx, w.ID, "2025-01-15")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, set, got)

	_, ok, err = db.FindShiftSet(ctx, w.ID, "2025-01-16")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveShiftSet_DuplicateForDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w := addWorker(t, db, 300, "Opole")

	require.NoError(t, db.SaveShiftSet(ctx, w.ID, "2025-01-15", mustParse(t, "09:00-10:00")))
	err := db.SaveShiftSet(ctx, w.ID, "2025-01-15", mustParse(t, "12:00-13:00"))
	assert.ErrorIs(t, err, ErrDuplicateForDay)

	require.NoError(t, db.SaveShiftSet(ctx, w.ID, "2025-01-16", mustParse(t, "12:00-13:00")))
}

func TestSaveShiftSet_Invalid(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	w := addWorker(t, db, 301, "Opole")

	four := append(mustParse(t, "01:00-02:00, 03:00-04:00, 05:00-06:00"),
		shift.Interval{Start: shift.TimeOfDay{Hour: 7}, End: shift.TimeOfDay{Hour: 8}})
	bad := []shift.ShiftSet{
		nil,
		{{Start: shift.TimeOfDay{Hour: 10}, End: shift.TimeOfDay{Hour: 9}}},
		{{Start: shift.TimeOfDay{Hour: 24}, End: shift.TimeOfDay{Hour: 25}}},
		four,
	}

	for _, set := range bad {
		assert.ErrorIs(t, db.SaveShiftSet(ctx, w.ID, "2025-01-15", set), ErrInvalidShiftSet)
	}
}

func TestListShiftSetsForCityAndDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := addWorker(t, db, 1, "Łódź")
	b := addWorker(t, db, 2, "Łódź")
	c := addWorker(t, db, 3, "Lublin")

	require.NoError(t, db.SaveShiftSet(ctx, a.ID, "2025-01-15", mustParse(t, "09:00-11:00")))
	require.NoError(t, db.SaveShiftSet(ctx, b.ID, "2025-01-15", mustParse(t, "06:00-07:00, 08:00-09:00, 10:00-11:00")))
	require.NoError(t, db.SaveShiftSet(ctx, c.ID, "2025-01-15", mustParse(t, "12:00-13:00")))
	require.NoError(t, db.SaveShiftSet(ctx, a.ID, "2025-01-16", mustParse(t, "12:00-13:00")))

	sets, err := db.ListShiftSetsForCityAndDate(ctx, "Łódź", "2025-01-15")
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Len(t, sets[0], 1)
	assert.Len(t, sets[1], 3)

	sets, err = db.ListShiftSetsForCityAndDate(ctx, "Radom", "2025-01-15")
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	addWorker(t, db, 1, "Tychy")

	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.New(io.Discard)
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
