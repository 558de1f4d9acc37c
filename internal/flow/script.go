// Package flow implements the staged coaching conversation: stage script, intent
// detection, stage progression and per-turn processing.
package flow

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Default question limits applied when a stage leaves them unset.
const (
	DefaultMinQuestions = 2
	DefaultMaxQuestions = 3
)

// PreviousContextPlaceholder is replaced in stage prompts with the summary of the
// user's last completed session.
const PreviousContextPlaceholder = "{previous_context}"

//go:embed coaching_script.yaml
var defaultScriptYAML []byte

// Stage describes one step of the coaching dialogue.
type Stage struct {
	Name         string   `yaml:"name"`
	Title        string   `yaml:"title"`
	Prompt       string   `yaml:"prompt"`
	Transition   string   `yaml:"transition"`
	Fallback     string   `yaml:"fallback"`
	Questions    []string `yaml:"questions"`
	MinQuestions int      `yaml:"min_questions"`
	MaxQuestions int      `yaml:"max_questions"`
}

// Messages holds the canned texts sent outside normal question generation.
type Messages struct {
	RestartStarter   string `yaml:"restart_starter"`
	CompletedNotice  string `yaml:"completed_notice"`
	ResumeFallback   string `yaml:"resume_fallback"`
	Farewell         string `yaml:"farewell"`
	EmpathyFallback  string `yaml:"empathy_fallback"`
	CompletionSuffix string `yaml:"completion_suffix"`
	CrisisResources  string `yaml:"crisis_resources"`
	TimeWarning      string `yaml:"time_warning"`
	Error            string `yaml:"error"`
	EmpathyPrompt    string `yaml:"empathy_prompt"`
	ResumePrompt     string `yaml:"resume_prompt"`
}

// Script is the full coaching script: ordered stages plus shared prompt fragments.
type Script struct {
	Principles    string   `yaml:"principles"`
	OutputRules   string   `yaml:"output_rules"`
	TimeLimitNote string   `yaml:"time_limit_note"`
	Stages        []Stage  `yaml:"stages"`
	Messages      Messages `yaml:"messages"`
}

// DefaultScript returns the embedded coaching script.
func DefaultScript() *Script {
	s, err := ParseScript(defaultScriptYAML)
	if err != nil {
		// the embedded script is validated by tests
		panic(fmt.Sprintf("flow: invalid embedded coaching script: %v", err))
	}
	return s
}

// LoadScript reads a script from path, or returns the embedded script when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coaching script %s: %w", path, err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("invalid coaching script %s: %w", path, err)
	}
	slog.Info("Loaded coaching script", "path", path, "stages", len(s.Stages))
	return s, nil
}

// ParseScript decodes and validates a YAML coaching script. Canned messages and prompt
// fragments missing from the document are filled in from the embedded default.
func ParseScript(data []byte) (*Script, error) {
	s, err := parseScript(data)
	if err != nil {
		return nil, err
	}
	def, err := parseScript(defaultScriptYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded coaching script: %w", err)
	}
	s.Messages = mergeMessages(s.Messages, def.Messages)
	if s.Principles == "" {
		s.Principles = def.Principles
	}
	if s.OutputRules == "" {
		s.OutputRules = def.OutputRules
	}
	if s.TimeLimitNote == "" {
		s.TimeLimitNote = def.TimeLimitNote
	}
	return s, nil
}

func parseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse coaching script: %w", err)
	}
	if len(s.Stages) == 0 {
		return nil, errors.New("coaching script has no stages")
	}
	for i := range s.Stages {
		st := &s.Stages[i]
		if st.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if st.MinQuestions <= 0 {
			st.MinQuestions = DefaultMinQuestions
		}
		if st.MaxQuestions <= 0 {
			st.MaxQuestions = DefaultMaxQuestions
		}
		if st.MinQuestions > st.MaxQuestions {
			return nil, fmt.Errorf("stage %s: min_questions %d exceeds max_questions %d", st.Name, st.MinQuestions, st.MaxQuestions)
		}
	}
	return &s, nil
}

func mergeMessages(m, def Messages) Messages {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Messages{
		RestartStarter:   pick(m.RestartStarter, def.RestartStarter),
		CompletedNotice:  pick(m.CompletedNotice, def.CompletedNotice),
		ResumeFallback:   pick(m.ResumeFallback, def.ResumeFallback),
		Farewell:         pick(m.Farewell, def.Farewell),
		EmpathyFallback:  pick(m.EmpathyFallback, def.EmpathyFallback),
		CompletionSuffix: pick(m.CompletionSuffix, def.CompletionSuffix),
		CrisisResources:  pick(m.CrisisResources, def.CrisisResources),
		TimeWarning:      pick(m.TimeWarning, def.TimeWarning),
		Error:            pick(m.Error, def.Error),
		EmpathyPrompt:    pick(m.EmpathyPrompt, def.EmpathyPrompt),
		ResumePrompt:     pick(m.ResumePrompt, def.ResumePrompt),
	}
}

// Stage returns the stage at index i, clamped to the valid range.
func (s *Script) Stage(i int) Stage {
	return s.Stages[s.clamp(i)]
}

// LastStage returns the index of the final stage.
func (s *Script) LastStage() int {
	return len(s.Stages) - 1
}

// StageName returns the name of stage i, clamped to the valid range.
func (s *Script) StageName(i int) string {
	return s.Stage(i).Name
}

func (s *Script) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > s.LastStage() {
		return s.LastStage()
	}
	return i
}
