// Package skillrouter suggests a skill for a task from the project's
// registry.json, without ever mutating orchestrator state itself —
// only a TASK_SKILL_SET event can do that (spec.md §6.4). Grounded on
// original_source/tiangong/core/skill_registry.py and skill_router.py.
package skillrouter

import (
	"encoding/json"
	"fmt"
	"os"
)

// EvidenceContract describes what a skill requires as proof of work.
type EvidenceContract struct {
	RequiresPatch            bool           `json:"requiresPatch"`
	RequiresCommands         bool           `json:"requiresCommands"`
	RequiresValidationScript bool           `json:"requiresValidationScript"`
	Extra                    map[string]any `json:"extra,omitempty"`
}

// RiskPolicy describes the operational tier a skill runs under.
type RiskPolicy struct {
	Tier         string         `json:"tier"` // safe | networked | privileged
	AllowedOps   []string       `json:"allowedOps,omitempty"`
	DenyPaths    []string       `json:"denyPaths,omitempty"`
	AllowNetwork bool           `json:"allowNetwork"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Spec is one entry of the skill registry.
type Spec struct {
	SkillName        string            `json:"skillName"`
	SupportedKinds   []string          `json:"supportedKinds"`
	InvocationHints  string            `json:"invocationHints,omitempty"`
	InputSchema      map[string]any    `json:"inputSchema,omitempty"`
	EvidenceContract *EvidenceContract `json:"evidenceContract,omitempty"`
	RiskPolicy       *RiskPolicy       `json:"riskPolicy,omitempty"`
}

// Registry indexes skill specs by name, preserving registry.json's
// declaration order for ByKind's candidate ordering.
type Registry struct {
	order  []string
	skills map[string]Spec
}

type registryDoc struct {
	Skills []Spec `json:"skills"`
}

// Load reads registry.json at path. A missing or malformed file
// yields an empty registry rather than an error, matching the
// teacher's tolerant config-loading behavior.
func Load(path string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Registry{skills: map[string]Spec{}}
	}
	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return &Registry{skills: map[string]Spec{}}
	}
	r := &Registry{skills: make(map[string]Spec, len(doc.Skills))}
	for _, spec := range doc.Skills {
		if spec.SkillName == "" {
			continue
		}
		if _, exists := r.skills[spec.SkillName]; !exists {
			r.order = append(r.order, spec.SkillName)
		}
		r.skills[spec.SkillName] = spec
	}
	return r
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	spec, ok := r.skills[name]
	return spec, ok
}

// ByKind returns every skill spec that lists kind among its
// supported kinds, in registry declaration order.
func (r *Registry) ByKind(kind string) []Spec {
	if kind == "" {
		return nil
	}
	var out []Spec
	for _, name := range r.order {
		spec := r.skills[name]
		for _, k := range spec.SupportedKinds {
			if k == kind {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("skillrouter.Registry{%d skills}", len(r.skills))
}
