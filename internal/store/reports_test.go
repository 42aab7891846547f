package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestGetReportAbsent(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, date, activity_id, needs_full_check FROM activity_reports`).
		WithArgs(int64(9001)).
		WillReturnError(pgx.ErrNoRows)

	report, err := st.GetReport(context.Background(), 9001)
	require.NoError(t, err)
	require.Nil(t, report)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastReportDate(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	when := time.Date(2025, 8, 10, 20, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT ar.date`).
		WithArgs(int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{"date"}).AddRow(when))

	date, err := st.LastReportDate(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, when, *date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReportCascades(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM activity_report_players`).
		WithArgs(int64(9001)).
		WillReturnResult(pgxmock.NewResult("DELETE", 6))
	mock.ExpectExec(`DELETE FROM activity_reports`).
		WithArgs(int64(9001)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, st.DeleteReport(context.Background(), 9001))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestReportEnqueuesNewPlayers(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	when := time.Date(2025, 8, 10, 20, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_reports`).
		WithArgs(int64(9001), when, int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Player 100 is already known (no row returned); player 200 is new.
	mock.ExpectQuery(`INSERT INTO players`).
		WithArgs(int64(100), 3, "Known", 1).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO players`).
		WithArgs(int64(200), 3, "Fresh", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(200)))
	mock.ExpectExec(`INSERT INTO player_crawl_queue`).
		WithArgs(int64(200), StatusQueued).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec(`INSERT INTO activity_report_players`).
		WithArgs(int64(9001), int64(100), int64(7), 50, true, 600).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activity_report_players`).
		WithArgs(int64(9001), int64(200), int64(7), 75, false, 600).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	newIDs, err := st.IngestReport(context.Background(),
		ActivityReport{ID: 9001, Date: when, ActivityID: 7},
		[]NewPlayer{
			{ID: 100, MembershipType: 3, DisplayName: "Known", DisplayNameCode: 1},
			{ID: 200, MembershipType: 3, DisplayName: "Fresh", DisplayNameCode: 2},
		},
		[]Participant{
			{ActivityReportID: 9001, PlayerID: 100, ActivityID: 7, Score: 50, Completed: true, DurationSeconds: 600},
			{ActivityReportID: 9001, PlayerID: 200, ActivityID: 7, Score: 75, Completed: false, DurationSeconds: 600},
		})
	require.NoError(t, err)
	require.Equal(t, []int64{200}, newIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestReportRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	boom := errors.New("constraint violation")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_reports`).
		WithArgs(int64(9001), pgxmock.AnyArg(), int64(0)).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := st.IngestReport(context.Background(), ActivityReport{ID: 9001}, nil, nil)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
