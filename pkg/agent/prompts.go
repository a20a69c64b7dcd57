package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malbeclabs/bicopilot/pkg/agent/prompts"
)

// Prompts holds the prompt templates loaded from the embedded filesystem.
type Prompts struct {
	GenerateSystem string
	Generate       string
	Retry          string
	ExplainSystem  string
	Explain        string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.GenerateSystem, err = loadPrompt("GENERATE_SYSTEM.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE_SYSTEM: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Retry, err = loadPrompt("RETRY.md"); err != nil {
		return nil, fmt.Errorf("failed to load RETRY: %w", err)
	}
	if p.ExplainSystem, err = loadPrompt("EXPLAIN_SYSTEM.md"); err != nil {
		return nil, fmt.Errorf("failed to load EXPLAIN_SYSTEM: %w", err)
	}
	if p.Explain, err = loadPrompt("EXPLAIN.md"); err != nil {
		return nil, fmt.Errorf("failed to load EXPLAIN: %w", err)
	}
	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func fill(template string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (p *Prompts) generateSystem(dialect string) string {
	return fill(p.GenerateSystem, map[string]string{"DIALECT": dialect})
}

// generateUser builds the generation prompt. failure is nil on the first
// attempt.
func (p *Prompts) generateUser(schema, question string, topK int, failure *failure) string {
	retry := ""
	if failure != nil {
		failedSQL := failure.SQL
		if failedSQL == "" {
			failedSQL = "(none)"
		}
		retry = "\n" + fill(p.Retry, map[string]string{
			"FAILED_SQL": failedSQL,
			"ERROR":      failure.Reason,
		}) + "\n"
	}
	return fill(p.Generate, map[string]string{
		"SCHEMA":   schema,
		"TOP_K":    strconv.Itoa(topK),
		"QUESTION": question,
		"RETRY":    retry,
	})
}

func (p *Prompts) explainUser(question, sql string) string {
	return fill(p.Explain, map[string]string{"QUESTION": question, "SQL": sql})
}
