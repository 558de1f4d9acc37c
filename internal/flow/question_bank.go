package flow

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// DefaultQuestionBankKey is the object key of the question CSV in its bucket.
const DefaultQuestionBankKey = "coach.csv"

// S3GetObjectAPI is the subset of the S3 client used to fetch the question CSV.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type bankStage struct {
	questions  []string
	followUps  []string
	transition string
}

// QuestionBank supplies canned questions used when the LLM is unavailable. Questions come
// from the coaching script and may be overridden by a CSV object in S3.
type QuestionBank struct {
	script *Script
	client S3GetObjectAPI
	bucket string
	key    string

	mu     sync.RWMutex
	stages map[int]bankStage
	loaded bool
}

// NewQuestionBank creates a bank backed only by the script's questions.
func NewQuestionBank(script *Script) *QuestionBank {
	return &QuestionBank{script: script, stages: map[int]bankStage{}}
}

// NewS3QuestionBank creates a bank that lazily loads bucket/key from S3.
func NewS3QuestionBank(script *Script, client S3GetObjectAPI, bucket, key string) *QuestionBank {
	if key == "" {
		key = DefaultQuestionBankKey
	}
	b := NewQuestionBank(script)
	b.client = client
	b.bucket = bucket
	b.key = key
	return b
}

// EnsureLoaded fetches the CSV from S3 once. Without an S3 source it does nothing.
// A failed load is retried on the next call.
func (b *QuestionBank) EnsureLoaded(ctx context.Context) error {
	if b.client == nil || b.bucket == "" {
		return nil
	}
	b.mu.RLock()
	loaded := b.loaded
	b.mu.RUnlock()
	if loaded {
		return nil
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		return fmt.Errorf("failed to get question bank s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()
	if err := b.LoadCSV(out.Body); err != nil {
		return err
	}
	slog.Info("QuestionBank.EnsureLoaded: loaded question bank", "bucket", b.bucket, "key", b.key)
	return nil
}

// LoadCSV replaces the bank's questions with those in r. The CSV has a step column naming
// the stage (text before an optional parenthesis), any number of Question columns, follow-up
// columns whose header mentions "follow", and an optional Transition column.
func (b *QuestionBank) LoadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse question bank csv: %w", err)
	}
	if len(records) < 2 {
		return errors.New("question bank csv has no rows")
	}

	header := records[0]
	stepCol, transitionCol := -1, -1
	var questionCols, followCols []int
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case name == "step":
			stepCol = i
		case name == "transition":
			transitionCol = i
		case strings.HasPrefix(name, "question") && strings.Contains(name, "follow"):
			followCols = append(followCols, i)
		case strings.HasPrefix(name, "question"):
			questionCols = append(questionCols, i)
		}
	}
	if stepCol < 0 {
		return errors.New("question bank csv has no step column")
	}

	stages := map[int]bankStage{}
	for _, rec := range records[1:] {
		idx, ok := b.stageIndex(cell(rec, stepCol))
		if !ok {
			slog.Debug("QuestionBank.LoadCSV: skipping unknown step", "step", cell(rec, stepCol))
			continue
		}
		st := stages[idx]
		for _, c := range questionCols {
			if q := cell(rec, c); q != "" {
				st.questions = append(st.questions, q)
			}
		}
		for _, c := range followCols {
			if q := cell(rec, c); q != "" {
				st.followUps = append(st.followUps, q)
			}
		}
		if t := cell(rec, transitionCol); t != "" && st.transition == "" {
			st.transition = t
		}
		stages[idx] = st
	}

	b.mu.Lock()
	b.stages = stages
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// stageIndex resolves a step label like "신뢰 형성(Trust)" or "Trust" to a stage index.
func (b *QuestionBank) stageIndex(step string) (int, bool) {
	candidates := []string{step}
	if i := strings.Index(step, "("); i >= 0 {
		candidates = []string{step[:i]}
		if j := strings.Index(step[i:], ")"); j > 0 {
			candidates = append(candidates, step[i+1:i+j])
		}
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for i, st := range b.script.Stages {
			if strings.EqualFold(c, st.Name) || c == st.Title {
				return i, true
			}
		}
	}
	return 0, false
}

// Question returns a canned question for the stage, rotating by the stage question count.
// Once the primary questions are used up, follow-up questions are offered.
func (b *QuestionBank) Question(stage, count int) string {
	st := b.script.Stage(stage)
	b.mu.RLock()
	bs := b.stages[b.script.clamp(stage)]
	b.mu.RUnlock()

	pool := bs.questions
	if len(pool) == 0 {
		pool = st.Questions
	}
	if count > len(pool) && len(bs.followUps) > 0 {
		pool = append(append([]string(nil), pool...), bs.followUps...)
	}
	if len(pool) == 0 {
		return st.Fallback
	}
	i := count - 1
	if i < 0 {
		i = 0
	}
	return pool[i%len(pool)]
}

// Advance moves the session to the next stage using the bank's transition text when the
// CSV supplies one, and the script's otherwise.
func (b *QuestionBank) Advance(session *models.Session, reply string) string {
	if session.CurrentStage >= b.script.LastStage() {
		return reply
	}
	b.mu.RLock()
	t := b.stages[session.CurrentStage+1].transition
	b.mu.RUnlock()
	if t == "" {
		return b.script.Advance(session, reply)
	}
	session.CurrentStage++
	session.StageQuestionCount = 0
	return t + "\n\n" + reply
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
