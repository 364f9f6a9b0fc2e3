package skillrouter

import (
	"encoding/json"
	"fmt"
	"os"
)

// Suggestion is the result of routing one task's taskSpec through the
// registry and the project's remembered skill choices.
type Suggestion struct {
	TaskID       string   `json:"taskId"`
	Kind         string   `json:"kind,omitempty"`
	Candidates   []string `json:"candidates"`
	Preferred    string   `json:"preferred,omitempty"`
	Remembered   string   `json:"remembered,omitempty"`
	SuggestedByPM []string `json:"suggestedByPM,omitempty"`
}

// Router pairs a Registry with a project's per-kind skill memory
// (team.json's defaults.skillMemory).
type Router struct {
	Registry   *Registry
	SkillMemory map[string]string
}

// New returns a Router. A nil memory map is treated as empty.
func New(registry *Registry, memory map[string]string) *Router {
	if memory == nil {
		memory = map[string]string{}
	}
	return &Router{Registry: registry, SkillMemory: memory}
}

// Suggest builds a Suggestion for one task's spec. It never mutates
// state; the caller decides whether to render it and waits for a
// TASK_SKILL_SET event before the choice becomes durable.
func (r *Router) Suggest(taskSpec map[string]any) Suggestion {
	taskID, _ := taskSpec["taskId"].(string)
	kind, _ := taskSpec["kind"].(string)
	suggestedByPM := stringSlice(taskSpec["suggestedSkills"])

	var candidates []string
	seen := map[string]bool{}
	for _, name := range suggestedByPM {
		if !seen[name] {
			candidates = append(candidates, name)
			seen[name] = true
		}
	}
	for _, spec := range r.Registry.ByKind(kind) {
		if !seen[spec.SkillName] {
			candidates = append(candidates, spec.SkillName)
			seen[spec.SkillName] = true
		}
	}

	var remembered string
	if kind != "" {
		remembered = r.SkillMemory[kind]
	}
	preferred, _ := taskSpec["preferredSkill"].(string)
	if preferred == "" {
		preferred = remembered
	}
	if preferred == "" && len(candidates) > 0 {
		preferred = candidates[0]
	}

	return Suggestion{
		TaskID: taskID, Kind: kind, Candidates: candidates,
		Preferred: preferred, Remembered: remembered, SuggestedByPM: suggestedByPM,
	}
}

// BuildPrompt renders a human-facing prompt for confirming or
// overriding the suggestion via the CLI.
func (r *Router) BuildPrompt(project string, s Suggestion) string {
	switch {
	case s.Remembered != "":
		return fmt.Sprintf(
			"Last time a %s task used %s. Reuse it? Confirm with: orchctl set-skill %s %s %s",
			s.Kind, s.Remembered, project, s.TaskID, s.Remembered,
		)
	case s.Preferred != "":
		return fmt.Sprintf(
			"Suggested skill: %s. Confirm with: orchctl set-skill %s %s %s",
			s.Preferred, project, s.TaskID, s.Preferred,
		)
	default:
		return fmt.Sprintf("No skill suggestion available for task %s; choose one manually.", s.TaskID)
	}
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// teamDoc is the subset of team.json touched by UpdateSkillMemory.
type teamDoc struct {
	Project  string         `json:"project"`
	Path     string         `json:"path"`
	PlanPath string         `json:"planPath"`
	Labels   map[string]any `json:"labels,omitempty"`
	Defaults struct {
		SkillMemory map[string]string `json:"skillMemory"`
	} `json:"defaults"`
}

// UpdateSkillMemory persists a confirmed skill choice into
// team.json's defaults.skillMemory so future tasks of the same kind
// default to it.
func UpdateSkillMemory(teamJSONPath, kind, skill string) error {
	data, err := os.ReadFile(teamJSONPath)
	if err != nil {
		return fmt.Errorf("skillrouter: read team.json: %w", err)
	}
	var doc teamDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("skillrouter: parse team.json: %w", err)
	}
	if doc.Defaults.SkillMemory == nil {
		doc.Defaults.SkillMemory = map[string]string{}
	}
	doc.Defaults.SkillMemory[kind] = skill

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("skillrouter: marshal team.json: %w", err)
	}
	return os.WriteFile(teamJSONPath, out, 0o644)
}
