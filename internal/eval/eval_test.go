package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type scriptedAnswers struct {
	byQuestion map[string]*domain.AnswerResult
	errs       map[string]error
}

func (s scriptedAnswers) Ask(_ context.Context, req domain.AskRequest) (*domain.AnswerResult, error) {
	if err, ok := s.errs[req.Question]; ok {
		return nil, err
	}
	if res, ok := s.byQuestion[req.Question]; ok {
		return res, nil
	}
	return domain.NewRefusal(req.Question, domain.StateRefused, domain.ReasonInsufficientEvidence), nil
}

func (scriptedAnswers) AskStream(context.Context, domain.AskRequest) (iter.Seq[domain.StreamEvent], error) {
	return nil, errors.New("not used")
}

const dataset = `
{"id":"refund","question":"Can I get a refund on annual plans?","must_cite":["refund_policy::c0001"],"must_contain":["30 days"]}
{"id":"weather","question":"What is the weather?","must_say_idk":true}

{"id":"sla","question":"What is the support SLA?","must_contain":["4 hours"]}
{"id":"broken","question":"Is the backend up?","must_contain":["yes"]}
`

func answered(text string, ids ...string) *domain.AnswerResult {
	citations := make([]domain.Citation, 0, len(ids))
	for _, id := range ids {
		citations = append(citations, domain.Citation{ChunkID: id})
	}
	return &domain.AnswerResult{FinalAnswer: text, Citations: citations, State: domain.StateAccepted}
}

func TestReadCasesSkipsBlankLinesAndRejectsMissingQuestion(t *testing.T) {
	cases, err := ReadCases(strings.NewReader(dataset))
	require.NoError(t, err)
	require.Len(t, cases, 4)
	assert.Equal(t, "refund", cases[0].ID)
	assert.True(t, cases[1].MustSayIDK)

	_, err = ReadCases(strings.NewReader(`{"id":"x"}`))
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, err = ReadCases(strings.NewReader(`{not json}`))
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestRunComputesMetrics(t *testing.T) {
	cases, err := ReadCases(strings.NewReader(dataset))
	require.NoError(t, err)

	answers := scriptedAnswers{
		byQuestion: map[string]*domain.AnswerResult{
			"Can I get a refund on annual plans?": answered("Yes, within 30 days of purchase.", "refund_policy::c0001"),
			"What is the support SLA?":            answered("Priority tickets get a reply within 8 hours.", "support::c0000"),
		},
		errs: map[string]error{
			"Is the backend up?": domain.WrapError(domain.ErrBackendUnavailable, "generate", errors.New("refused")),
		},
	}

	report, err := NewRunner(answers).Run(context.Background(), cases)
	require.NoError(t, err)

	m := report.Metrics
	assert.Equal(t, 4, m.N)
	assert.InDelta(t, 0.75, m.AnswerRate, 1e-9)
	assert.InDelta(t, 0.25, m.IDKRate, 1e-9)
	assert.InDelta(t, 0.5, m.CitationRate, 1e-9)
	require.NotNil(t, m.MustCiteHitRate)
	assert.InDelta(t, 1.0, *m.MustCiteHitRate, 1e-9)
	require.NotNil(t, m.ContainHitRate)
	assert.InDelta(t, 1.0/3.0, *m.ContainHitRate, 1e-9)
	require.NotNil(t, m.IDKHitRate)
	assert.InDelta(t, 1.0, *m.IDKHitRate, 1e-9)

	assert.True(t, report.Results[0].Passed())
	assert.True(t, report.Results[1].Passed())
	assert.False(t, report.Results[2].Passed())
	assert.False(t, report.Results[3].OK)
	assert.Equal(t, "backend_unavailable", report.Results[3].ErrorKind)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(scriptedAnswers{}).Run(ctx, []Case{{ID: "a", Question: "q"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricsOmitUndefinedHitRates(t *testing.T) {
	report, err := NewRunner(scriptedAnswers{}).Run(context.Background(), []Case{{ID: "a", Question: "q"}})
	require.NoError(t, err)
	assert.Nil(t, report.Metrics.MustCiteHitRate)
	assert.Nil(t, report.Metrics.ContainHitRate)
}

func TestWriteReportAndSummary(t *testing.T) {
	color.NoColor = true
	report, err := NewRunner(scriptedAnswers{}).Run(context.Background(), []Case{
		{ID: "idk", Question: "q", MustSayIDK: true},
		{ID: "cite", Question: "r", MustCite: []string{"x::c0000"}},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "results.json")
	require.NoError(t, WriteReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Metrics.N)

	var buf bytes.Buffer
	PrintSummary(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "PASS idk")
	assert.Contains(t, out, "FAIL cite")
	assert.Contains(t, out, "must_cite")
	assert.Contains(t, out, "contain_hit_rate: n/a")
}
