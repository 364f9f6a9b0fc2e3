package skillrouter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryByKindPreservesDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, `{"skills":[
		{"skillName":"go-impl","supportedKinds":["code"]},
		{"skillName":"go-review","supportedKinds":["code","review"]},
		{"skillName":"writer","supportedKinds":["docs"]}
	]}`)

	reg := Load(path)
	kinds := reg.ByKind("code")
	require.Len(t, kinds, 2)
	assert.Equal(t, "go-impl", kinds[0].SkillName)
	assert.Equal(t, "go-review", kinds[1].SkillName)
}

func TestLoadToleratesMissingFile(t *testing.T) {
	reg := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Empty(t, reg.ByKind("code"))
}

func TestSuggestPrefersRememberedSkillOverCandidates(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, `{"skills":[{"skillName":"go-impl","supportedKinds":["code"]}]}`)
	reg := Load(path)

	router := New(reg, map[string]string{"code": "go-review"})
	s := router.Suggest(map[string]any{
		"taskId":          "t1",
		"kind":            "code",
		"suggestedSkills": []any{"go-impl"},
	})

	assert.Equal(t, []string{"go-impl"}, s.Candidates)
	assert.Equal(t, "go-review", s.Remembered)
	assert.Equal(t, "go-review", s.Preferred, "remembered wins when no explicit preferredSkill")
}

func TestSuggestFallsBackToFirstCandidate(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, `{"skills":[{"skillName":"go-impl","supportedKinds":["code"]}]}`)
	reg := Load(path)

	router := New(reg, nil)
	s := router.Suggest(map[string]any{"taskId": "t1", "kind": "code"})
	assert.Equal(t, "go-impl", s.Preferred)
}

func TestBuildPromptRendersConfirmCommand(t *testing.T) {
	router := New(Load("missing.json"), nil)
	prompt := router.BuildPrompt("demo", Suggestion{TaskID: "t1", Preferred: "go-impl"})
	assert.Contains(t, prompt, "orchctl set-skill demo t1 go-impl")
}

func TestUpdateSkillMemoryPersists(t *testing.T) {
	dir := t.TempDir()
	teamPath := filepath.Join(dir, "team.json")
	require.NoError(t, os.WriteFile(teamPath, []byte(`{"project":"demo"}`), 0o644))

	require.NoError(t, UpdateSkillMemory(teamPath, "code", "go-impl"))

	data, err := os.ReadFile(teamPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"go-impl"`)
}
