// Package quality judges generated answers before they reach the learner.
//
// A second model call scores the answer from 1 to 10 against the course
// policy: no complete solutions, no pseudocode for assignments, and no
// invented course details. Answers scoring below the threshold fail.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultThreshold   = 7
	DefaultTemperature = 0.1

	// fallbackScore is used when the judge reply has no recognizable score.
	fallbackScore = 5
)

const judgeSystem = "You are a quality checker. Return only valid JSON with 'score' and 'feedback' fields."

const judgeTemplate = `You are a quality checker for a course tutor assistant. Rate the following response on a scale of 1-10.

Student Query: %q
RAG Context: %q
Assistant Response: %q

Check ONLY for these issues (all are NEVER allowed):
1. COMPLETE CODE SOLUTIONS: Does the response provide full, runnable code solutions to assignments?
   - Any complete implementation of homework/project functions is a major violation.
   - Short code snippets used only for illustration are acceptable.
2. PSEUDOCODE SOLUTIONS: Does the response provide pseudocode or step-by-step algorithmic outlines for assignment functions?
   - Even if the student explicitly requests pseudocode, it must NOT be given.
3. INVENTED OR INACCURATE INFORMATION: Does the response make up course details, project requirements, due dates, or implementation specifics that are not in the RAG context?

Scoring:
- 9-10: No issues, helpful and accurate
- 7-8: Minor issues only, overall acceptable
- 5-6: Noticeable issues, needs improvement
- 1-4: Major violations. Response must be regenerated.

Return ONLY a JSON object with "score" (integer 1-10) and "feedback" (string explaining issues found).`

var scorePattern = regexp.MustCompile(`(?i)score["\s]*:["\s]*(\d+)`)

// Verdict is the outcome of a quality check.
type Verdict struct {
	Passed bool   `json:"passed"`
	Score  int    `json:"score"`
	Reason string `json:"reason,omitempty"`
}

// Judge decides whether an answer may be delivered.
type Judge interface {
	Validate(ctx context.Context, result *provider.Result, query, ragContext string) Verdict
}

// Validator judges answers through a Gateway.
type Validator struct {
	gateway     provider.Gateway
	threshold   int
	temperature float64
	logger      *logging.Logger
	tracer      trace.Tracer
}

// Option configures a Validator.
type Option func(*Validator)

// WithThreshold sets the minimum passing score.
func WithThreshold(n int) Option {
	return func(v *Validator) { v.threshold = n }
}

// WithTemperature sets the judge sampling temperature.
func WithTemperature(t float64) Option {
	return func(v *Validator) { v.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(v *Validator) { v.tracer = t }
}

// NewValidator creates a Validator that calls gateway as the judge.
func NewValidator(gateway provider.Gateway, opts ...Option) (*Validator, error) {
	v := &Validator{
		gateway:     gateway,
		threshold:   DefaultThreshold,
		temperature: DefaultTemperature,
		logger:      logging.NewNop(),
		tracer:      otel.Tracer("github.com/fyrsmithlabs/tutord/internal/quality"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if gateway == nil {
		return nil, fmt.Errorf("quality: gateway is required")
	}
	if v.threshold < 1 || v.threshold > 10 {
		return nil, fmt.Errorf("quality: threshold must be within [1,10], got %d", v.threshold)
	}
	v.logger = v.logger.Named("quality")
	return v, nil
}

// Validate implements Judge. Whitespace-only answers fail without a judge
// call. A judge call error fails the answer with the error as reason.
func (v *Validator) Validate(ctx context.Context, result *provider.Result, query, ragContext string) Verdict {
	ctx, span := v.tracer.Start(ctx, "quality.Validate")
	defer span.End()

	if result == nil || strings.TrimSpace(result.Text) == "" {
		span.SetAttributes(attribute.Bool("quality.passed", false))
		return Verdict{Passed: false, Score: 0, Reason: "empty response"}
	}

	reply, err := v.gateway.Generate(ctx, provider.Request{
		System:      judgeSystem,
		Query:       fmt.Sprintf(judgeTemplate, query, ragContext, result.Text),
		Temperature: v.temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.Warn(ctx, "quality judge call failed", zap.Error(err))
		return Verdict{Passed: false, Reason: fmt.Sprintf("quality check error: %v", err)}
	}

	score, feedback := ParseJudgement(reply.Text)
	verdict := Verdict{Passed: score >= v.threshold, Score: score, Reason: feedback}

	span.SetAttributes(
		attribute.Int("quality.score", score),
		attribute.Bool("quality.passed", verdict.Passed),
	)
	v.logger.Debug(ctx, "quality verdict",
		zap.Int("score", score),
		zap.Bool("passed", verdict.Passed),
	)
	return verdict
}

type judgement struct {
	Score    *json.Number `json:"score"`
	Feedback string       `json:"feedback"`
}

// ParseJudgement extracts the score and feedback from a judge reply. It
// accepts a JSON object (optionally inside a code fence), then falls back to
// a "score: N" pattern, then to a neutral score of 5.
func ParseJudgement(text string) (int, string) {
	var j judgement
	if err := json.Unmarshal([]byte(stripFence(text)), &j); err == nil {
		score := fallbackScore
		if j.Score != nil {
			if f, err := j.Score.Float64(); err == nil {
				score = int(f)
			}
		}
		feedback := j.Feedback
		if feedback == "" {
			feedback = "Unable to parse quality feedback"
		}
		return clamp(score), feedback
	}

	score := fallbackScore
	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = n
		}
	}
	feedback := strings.TrimSpace(text)
	if feedback == "" {
		feedback = "Quality check failed to parse"
	}
	return clamp(score), feedback
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func clamp(score int) int {
	return min(max(score, 1), 10)
}

// Skip passes every non-empty answer without a judge call. It is used when
// validation is disabled.
type Skip struct{}

// Validate implements Judge.
func (Skip) Validate(_ context.Context, result *provider.Result, _, _ string) Verdict {
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return Verdict{Passed: false, Reason: "empty response"}
	}
	return Verdict{Passed: true, Score: 10, Reason: "validation disabled"}
}
