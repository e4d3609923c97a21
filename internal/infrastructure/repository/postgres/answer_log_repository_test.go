package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*AnswerLogRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewAnswerLogRepository(db)
	repo.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return repo, mock, func() { _ = db.Close() }
}

func TestAppendStoresAnswerWithRetrievalSummary(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO answer_log").
		WithArgs(
			"trace-1", "How long is the refund window?", "14 days.", string(domain.StateAccepted), "",
			[]byte(`[{"chunk_id":"refund::c0000","doc_id":"refund","section_path":"Refunds","score":0.8,"snippet":"Pro users"}]`),
			0.8, string(domain.GateAdmitted), int64(3), int64(12), int64(40), int64(55), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &domain.AnswerResult{
		TraceID:     "trace-1",
		Question:    "How long is the refund window?",
		FinalAnswer: "14 days.",
		State:       domain.StateAccepted,
		Citations: []domain.Citation{
			{ChunkID: "refund::c0000", DocID: "refund", SectionPath: "Refunds", Score: 0.8, Snippet: "Pro users"},
		},
		Retrieval: &domain.RetrievalResult{TopScore: 0.8, GateReason: domain.GateAdmitted, Generation: 3},
		Timings:   domain.Timings{RetrieveMs: 12, GenerateMs: 40, TotalMs: 55},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendRequiresTraceID(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	err := repo.Append(context.Background(), &domain.AnswerResult{Question: "q"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStateCountsGroupsByState(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	since := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"state", "count"}).
		AddRow("accepted", 7).
		AddRow("refused", 2)
	mock.ExpectQuery("FROM answer_log").
		WithArgs(since).
		WillReturnRows(rows)

	counts, err := repo.StateCounts(context.Background(), since)
	if err != nil {
		t.Fatalf("StateCounts() error = %v", err)
	}
	if counts[domain.StateAccepted] != 7 || counts[domain.StateRefused] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
