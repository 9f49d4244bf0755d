package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

func testRecord() *roast.Record {
	now := time.Unix(1700000000, 0).UTC()
	return &roast.Record{
		ID:        "roast-1",
		URL:       "https://example.com/",
		Status:    roast.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	rec := testRecord()
	mock.ExpectExec("INSERT INTO roasts").
		WithArgs(
			rec.ID, rec.URL, rec.Status, rec.Roast, rec.Score,
			[]byte(`{"headline":0,"trust":0,"visual":0,"cta":0,"speed":0}`),
			[]byte(`[]`),
			[]byte(`[]`),
			rec.ModelAgreement, rec.DesktopURL, rec.MobileURL, rec.ShareCardURL,
			[]byte(`{"loadTimeMs":0,"domReadyMs":0,"firstPaintMs":0,"resourceCount":0}`),
			rec.Error, rec.ViewCount, rec.CreatedAt, rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE roasts SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), testRecord())
	require.ErrorIs(t, err, roast.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM roasts WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, roast.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "url", "status", "roast", "score", "breakdown", "issues", "quick_wins",
		"model_agreement", "desktop_url", "mobile_url", "share_card_url", "metrics",
		"error", "view_count", "created_at", "updated_at",
	}).AddRow(
		"roast-1", "https://example.com/", string(roast.StatusCompleted),
		"Solid effort.", 7,
		[]byte(`{"headline":2,"trust":1,"visual":1,"cta":1,"speed":2}`),
		[]byte(`[{"issue":"tiny cta","location":"hero","impact":"high","fix":"enlarge"}]`),
		[]byte(`["Raise the CTA"]`),
		0.8, "https://cdn/desktop.jpg", "https://cdn/mobile.jpg", "https://cdn/share.jpg",
		[]byte(`{"loadTimeMs":1200,"domReadyMs":600,"firstPaintMs":300,"resourceCount":42}`),
		"", int64(3), now, now,
	)
	mock.ExpectQuery("SELECT .* FROM roasts WHERE id").
		WithArgs("roast-1").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "roast-1")
	require.NoError(t, err)
	require.Equal(t, roast.StatusCompleted, rec.Status)
	require.Equal(t, 7, rec.Score)
	require.Equal(t, 2, rec.Breakdown.Headline)
	require.Len(t, rec.Issues, 1)
	require.Equal(t, roast.ImpactHigh, rec.Issues[0].Impact)
	require.Equal(t, int64(1200), rec.Metrics.LoadTimeMs)
	require.Equal(t, int64(3), rec.ViewCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementViews(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE roasts SET view_count").
		WithArgs("roast-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"view_count"}).AddRow(int64(4)))

	count, err := store.IncrementViews(context.Background(), "roast-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
