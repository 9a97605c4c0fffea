package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fandomtools/ficbot/internal/fic"
)

func testWork() fic.WorkMetadata {
	return fic.WorkMetadata{
		URL:     "https://archiveofourown.org/works/12345",
		Title:   "Stars Over Lebanon",
		Authors: []string{"dean_said_yes"},
		Words:   48213,
		Status:  fic.StatusComplete,
	}
}

func TestUpsertInsertsRecommendation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	work := testWork()
	meta, err := json.Marshal(work)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("INSERT INTO recommendations").
		WithArgs(work.URL, work.Title, "user#1234", meta).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "recorded_by", "recorded_at", "last_updated"},
		).AddRow(int64(7), "user#1234", now, now))

	stored, err := store.Upsert(context.Background(), fic.Recommendation{
		Work:       work,
		RecordedBy: "user#1234",
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), stored.ID)
	require.Equal(t, now, stored.RecordedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	_, err = store.Upsert(context.Background(), fic.Recommendation{})
	require.Error(t, err)
}

func TestGetByURLFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	work := testWork()
	meta, err := json.Marshal(work)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM recommendations WHERE url").
		WithArgs(work.URL).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "recorded_by", "recorded_at", "last_updated", "metadata"},
		).AddRow(int64(7), "user#1234", now, now, meta))

	rec, err := store.GetByURL(context.Background(), work.URL)
	require.NoError(t, err)
	require.Equal(t, "Stars Over Lebanon", rec.Work.Title)
	require.Equal(t, []string{"dean_said_yes"}, rec.Work.Authors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByURLNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM recommendations WHERE url").
		WithArgs("https://missing").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "recorded_by", "recorded_at", "last_updated", "metadata"},
		))

	_, err = store.GetByURL(context.Background(), "https://missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchReturnsMatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	work := testWork()
	meta, err := json.Marshal(work)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM recommendations").
		WithArgs("stars", 10).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "recorded_by", "recorded_at", "last_updated", "metadata"},
		).AddRow(int64(7), "user#1234", now, now, meta))

	recs, err := store.Search(context.Background(), "stars", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "Stars Over Lebanon", recs[0].Work.Title)
}

func TestDeleteNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM recommendations").
		WithArgs("https://missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, store.Delete(context.Background(), "https://missing"), ErrNotFound)
}

func TestDeleteRemovesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM recommendations").
		WithArgs("https://archiveofourown.org/works/12345").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), "https://archiveofourown.org/works/12345"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}
