// Package eval scores the answer pipeline against a golden question set.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

// Case is one line of the golden JSONL file. Check fields are optional.
type Case struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	TopK        int      `json:"top_k,omitempty"`
	MustCite    []string `json:"must_cite,omitempty"`
	MustContain []string `json:"must_contain,omitempty"`
	MustSayIDK  bool     `json:"must_say_idk,omitempty"`
}

type Check struct {
	Required []string `json:"required,omitempty"`
	Got      []string `json:"got,omitempty"`
	Hit      bool     `json:"hit"`
}

type CaseResult struct {
	ID        string            `json:"id"`
	Question  string            `json:"question"`
	OK        bool              `json:"ok"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Answer    string            `json:"answer,omitempty"`
	State     string            `json:"state,omitempty"`
	Citations []domain.Citation `json:"citations,omitempty"`
	Checks    map[string]Check  `json:"checks,omitempty"`
}

// Passed reports whether the case succeeded and every configured check hit.
func (r CaseResult) Passed() bool {
	if !r.OK {
		return false
	}
	for _, c := range r.Checks {
		if !c.Hit {
			return false
		}
	}
	return true
}

// Metrics are rates over all cases. Hit rates are nil when no case defines the check.
type Metrics struct {
	N               int      `json:"n"`
	AnswerRate      float64  `json:"answer_rate"`
	IDKRate         float64  `json:"idk_rate"`
	CitationRate    float64  `json:"citation_rate"`
	MustCiteHitRate *float64 `json:"must_cite_hit_rate"`
	ContainHitRate  *float64 `json:"contain_hit_rate"`
	IDKHitRate      *float64 `json:"idk_hit_rate"`
}

type Report struct {
	Metrics Metrics      `json:"metrics"`
	Results []CaseResult `json:"results"`
}

func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCases(f)
}

func ReadCases(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read dataset", fmt.Errorf("line %d: %w", line, err))
		}
		if strings.TrimSpace(c.Question) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read dataset", fmt.Errorf("line %d: question is required", line))
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("case-%d", line)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	return cases, nil
}

type Runner struct {
	answers ports.AnswerService
}

func NewRunner(answers ports.AnswerService) *Runner {
	return &Runner{answers: answers}
}

// Run asks every case in order. Pipeline errors are recorded per case; only context
// cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, cases []Case) (Report, error) {
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		results = append(results, r.runCase(ctx, c))
	}
	return Report{Metrics: computeMetrics(cases, results), Results: results}, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseResult {
	result := CaseResult{ID: c.ID, Question: c.Question}
	answer, err := r.answers.Ask(ctx, domain.AskRequest{Question: c.Question, TopK: c.TopK})
	if err != nil {
		result.ErrorKind = domain.ErrorKind(err)
		result.Error = err.Error()
		return result
	}

	result.OK = true
	result.Answer = strings.TrimSpace(answer.FinalAnswer)
	result.State = string(answer.State)
	result.Citations = answer.Citations
	result.Checks = map[string]Check{}

	cited := make([]string, 0, len(answer.Citations))
	for _, citation := range answer.Citations {
		cited = append(cited, citation.ChunkID)
	}
	slices.Sort(cited)

	if len(c.MustCite) > 0 {
		hit := true
		for _, id := range c.MustCite {
			if !slices.Contains(cited, id) {
				hit = false
				break
			}
		}
		result.Checks["must_cite"] = Check{Required: c.MustCite, Got: cited, Hit: hit}
	}
	if len(c.MustContain) > 0 {
		lower := strings.ToLower(result.Answer)
		hit := true
		for _, s := range c.MustContain {
			if !strings.Contains(lower, strings.ToLower(s)) {
				hit = false
				break
			}
		}
		result.Checks["must_contain"] = Check{Required: c.MustContain, Hit: hit}
	}
	if c.MustSayIDK {
		result.Checks["must_say_idk"] = Check{Hit: isIDK(result.Answer)}
	}
	return result
}

func isIDK(answer string) bool {
	return strings.Contains(strings.ToLower(answer), "don't know")
}

func computeMetrics(cases []Case, results []CaseResult) Metrics {
	m := Metrics{N: len(results)}
	if m.N == 0 {
		return m
	}
	var answered, idk, cited int
	var citeTotal, citeHits, containTotal, containHits, idkTotal, idkHits int
	for i, r := range results {
		if r.Answer != "" {
			answered++
		}
		if isIDK(r.Answer) {
			idk++
		}
		if len(r.Citations) > 0 {
			cited++
		}
		// Failed requests still count against the checks they define.
		c := cases[i]
		if len(c.MustCite) > 0 {
			citeTotal++
			if r.Checks["must_cite"].Hit {
				citeHits++
			}
		}
		if len(c.MustContain) > 0 {
			containTotal++
			if r.Checks["must_contain"].Hit {
				containHits++
			}
		}
		if c.MustSayIDK {
			idkTotal++
			if r.Checks["must_say_idk"].Hit {
				idkHits++
			}
		}
	}
	n := float64(m.N)
	m.AnswerRate = float64(answered) / n
	m.IDKRate = float64(idk) / n
	m.CitationRate = float64(cited) / n
	m.MustCiteHitRate = ratio(citeHits, citeTotal)
	m.ContainHitRate = ratio(containHits, containTotal)
	m.IDKHitRate = ratio(idkHits, idkTotal)
	return m
}

func ratio(hits, total int) *float64 {
	if total == 0 {
		return nil
	}
	v := float64(hits) / float64(total)
	return &v
}

func WriteReport(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// PrintSummary writes one line per case and the metric block.
func PrintSummary(w io.Writer, report Report) {
	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	label := color.New(color.FgCyan).SprintFunc()

	for _, r := range report.Results {
		status := pass("PASS")
		detail := r.State
		if !r.Passed() {
			status = fail("FAIL")
			if !r.OK {
				detail = r.ErrorKind
			} else {
				detail = failedChecks(r)
			}
		}
		fmt.Fprintf(w, "%s %-24s %s\n", status, r.ID, detail)
	}

	m := report.Metrics
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d\n", label("cases:"), m.N)
	fmt.Fprintf(w, "%s %.3f\n", label("answer_rate:"), m.AnswerRate)
	fmt.Fprintf(w, "%s %.3f\n", label("idk_rate:"), m.IDKRate)
	fmt.Fprintf(w, "%s %.3f\n", label("citation_rate:"), m.CitationRate)
	fmt.Fprintf(w, "%s %s\n", label("must_cite_hit_rate:"), formatRate(m.MustCiteHitRate))
	fmt.Fprintf(w, "%s %s\n", label("contain_hit_rate:"), formatRate(m.ContainHitRate))
	fmt.Fprintf(w, "%s %s\n", label("idk_hit_rate:"), formatRate(m.IDKHitRate))
}

func failedChecks(r CaseResult) string {
	var names []string
	for name, c := range r.Checks {
		if !c.Hit {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

func formatRate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
