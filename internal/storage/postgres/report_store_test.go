package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/swdedup/internal/cluster"
	"github.com/JakeFAU/swdedup/internal/pipeline"
	"github.com/JakeFAU/swdedup/internal/similarity"
)

const testRunID = "0190c3a2-7b8e-7c4d-9a1e-1234567890ab"

func sampleReport() pipeline.Report {
	return pipeline.Report{
		RunID:        testRunID,
		StartedAt:    time.Unix(1700000000, 0).UTC(),
		Threshold:    90,
		Files:        4,
		Digests:      similarity.DigestMap{"0.js": "a", "1.js": "a", "2.js": "b"},
		NoDigest:     []string{"3.js"},
		Pairs:        []similarity.Pair{{FileA: "0.js", FileB: "1.js", Score: 100}},
		Clusters:     []cluster.Cluster{{Representative: "0.js", Members: []string{"0.js", "1.js"}}},
		Deduplicated: []string{"0.js", "2.js"},
		Entries: []pipeline.Entry{
			{Path: "0.js", ClusterSize: 2, URLs: []string{"https://a.example/sw.js", "https://b.example/sw.js"}},
			{Path: "2.js", ClusterSize: 1},
		},
	}
}

func TestSaveReportInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock, "")
	require.NoError(t, err)

	report := sampleReport()
	runID := uuid.MustParse(testRunID)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dedup_runs").
		WithArgs(runID, report.StartedAt, 90, 4, 3, 1, 1, 1, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dedup_representatives").
		WithArgs(runID, "0.js", 2, []byte(`["https://a.example/sw.js","https://b.example/sw.js"]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dedup_representatives").
		WithArgs(runID, "2.js", 1, []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveReport(context.Background(), report))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReportRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock, "reps")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dedup_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = store.SaveReport(context.Background(), sampleReport())
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReportRejectsBadRunID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock, "")
	require.NoError(t, err)

	report := sampleReport()
	report.RunID = ""
	require.Error(t, store.SaveReport(context.Background(), report))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock, "reps")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS dedup_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS reps")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewReportStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewReportStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewReportStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewReportStore(context.Background(), ReportStoreConfig{})
	require.Error(t, err)
	_, err = NewReportStore(context.Background(), ReportStoreConfig{DSN: "postgres://localhost/db", Table: "1bad"})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
