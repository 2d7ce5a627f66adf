// Package template renders node prompts and transform expressions
// against the state of a workflow run.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
)

// RenderForRun renders input against the run's trigger context and the
// outputs of nodes that already completed, keyed by node ID.
func RenderForRun(input string, run *models.WorkflowRun, nodeOutputs map[string]any) (any, error) {
	data := map[string]any{
		"trigger": run.TriggerContext,
		"nodes":   nodeOutputs,
		"env":     envVars(),
		"run": map[string]any{
			"id":          run.ID,
			"workflow_id": run.WorkflowID,
		},
	}

	return Render(input, data)
}

// Render executes a text/template against data. When the result looks
// like a JSON document it is decoded so downstream nodes see structure
// instead of a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"json": func(v any) string {
				encoded, err := json.Marshal(v)
				if err != nil {
					return ""
				}

				return string(encoded)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if parsed, err := strconv.ParseFloat(result, 64); err == nil && result != "" {
		if result == strconv.FormatFloat(parsed, 'f', -1, 64) {
			return parsed, nil
		}
	}

	return result, nil
}

// RenderString is Render restricted to a string result; structured
// results are re-encoded as JSON.
func RenderString(templateStr string, data any) (string, error) {
	rendered, err := Render(templateStr, data)
	if err != nil {
		return "", err
	}

	if s, ok := rendered.(string); ok {
		return s, nil
	}

	encoded, err := json.Marshal(rendered)
	if err != nil {
		return "", fmt.Errorf("failed to encode rendered value: %w", err)
	}

	return string(encoded), nil
}

func envVars() map[string]string {
	vars := make(map[string]string)

	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			vars[key] = value
		}
	}

	return vars
}
