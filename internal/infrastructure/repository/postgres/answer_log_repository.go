package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// AnswerLogRepository keeps an audit row per answered question.
type AnswerLogRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAnswerLogRepository(db *sql.DB) *AnswerLogRepository {
	return &AnswerLogRepository{db: db, now: time.Now}
}

func (r *AnswerLogRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101902)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS answer_log (
	trace_id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	final_answer TEXT NOT NULL,
	state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	gate_reason TEXT NOT NULL DEFAULT '',
	corpus_generation BIGINT NOT NULL DEFAULT 0,
	retrieve_ms BIGINT NOT NULL DEFAULT 0,
	generate_ms BIGINT NOT NULL DEFAULT 0,
	total_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_log_state ON answer_log(state);
CREATE INDEX IF NOT EXISTS idx_answer_log_created_at ON answer_log(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AnswerLogRepository) Append(ctx context.Context, answer *domain.AnswerResult) error {
	if answer == nil || answer.TraceID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "append answer log", fmt.Errorf("answer trace id is required"))
	}
	citations := answer.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	var (
		topScore   float64
		gateReason string
		generation uint64
	)
	if answer.Retrieval != nil {
		topScore = answer.Retrieval.TopScore
		gateReason = string(answer.Retrieval.GateReason)
		generation = answer.Retrieval.Generation
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO answer_log (
	trace_id, question, final_answer, state, reason, citations, top_score, gate_reason,
	corpus_generation, retrieve_ms, generate_ms, total_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (trace_id) DO NOTHING
`,
		answer.TraceID, answer.Question, answer.FinalAnswer, string(answer.State), answer.Reason, citationsJSON,
		topScore, gateReason, int64(generation), answer.Timings.RetrieveMs, answer.Timings.GenerateMs,
		answer.Timings.TotalMs, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert answer log: %w", err)
	}
	return nil
}

// StateCounts returns how many answers ended in each state since the given time.
func (r *AnswerLogRepository) StateCounts(ctx context.Context, since time.Time) (map[domain.AnswerState]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT state, COUNT(*)
FROM answer_log
WHERE created_at >= $1
GROUP BY state
`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query answer states: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.AnswerState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan answer state: %w", err)
		}
		out[domain.AnswerState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer states: %w", err)
	}
	return out, nil
}
