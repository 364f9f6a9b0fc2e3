// Command orchctl is the operator CLI for one orchestrator project:
// inspecting status.json, suggesting/confirming a task's skill, and
// running a single dry-run tick. Argument style (manual os.Args
// dispatch, positional arguments, env var defaults) follows
// cmd/ocx-cli/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/config"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/notify"
	"github.com/ocx/orchestrator/internal/orchestrator"
	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
	"github.com/ocx/orchestrator/internal/skillrouter"
	"github.com/ocx/orchestrator/internal/statemanager"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "orchctl: no .env file found")
	}

	switch os.Args[1] {
	case "status":
		cmdStatus(os.Args[2:])
	case "suggest-skill":
		cmdSuggestSkill(os.Args[2:])
	case "set-skill":
		cmdSetSkill(os.Args[2:])
	case "tick":
		cmdTick(os.Args[2:])
	case "version":
		fmt.Printf("orchctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`orchctl v` + version + `

Usage: orchctl <command> [args]

Commands:
  status <project-dir>
      Print the project's current status.json.

  suggest-skill <project-dir> <taskId>
      Suggest a skill for taskId from registry.json + team.json's
      remembered skill choices.

  set-skill <project-dir> <taskId> <skill>
      Record TASK_SKILL_SET for taskId and remember the choice for
      future tasks of the same kind.

  tick <project-dir>
      Run a single reconciliation tick with a no-op spawner and a
      stdout notification sink, then print the resulting status.

  version
      Print version.

Environment:
  ORCH_BASE_DIR   default project-dir when no argument is given`)
}

func resolveBaseDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if v := os.Getenv("ORCH_BASE_DIR"); v != "" {
		return v
	}
	fmt.Fprintln(os.Stderr, "Error: project-dir is required (or set ORCH_BASE_DIR)")
	os.Exit(1)
	return ""
}

func cmdStatus(args []string) {
	baseDir := resolveBaseDir(args)
	layout := statemanager.NewLayout(baseDir)

	data, err := os.ReadFile(layout.StatusFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status.json unavailable: %v\n", err)
		os.Exit(1)
	}
	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Fprintf(os.Stderr, "status.json corrupt: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func cmdSuggestSkill(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: orchctl suggest-skill <project-dir> <taskId>")
		os.Exit(1)
	}
	baseDir, taskID := args[0], args[1]
	layout := statemanager.NewLayout(baseDir)

	status := loadStatus(layout)
	task := findTask(status, taskID)
	if task == nil {
		fmt.Fprintf(os.Stderr, "task %s not found in status.json\n", taskID)
		os.Exit(1)
	}

	registry := skillrouter.Load(layout.RegistryFile())
	router := skillrouter.New(registry, readSkillMemory(layout))
	suggestion := router.Suggest(task.TaskSpec)
	fmt.Println(router.BuildPrompt(baseDir, suggestion))
}

func cmdSetSkill(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: orchctl set-skill <project-dir> <taskId> <skill>")
		os.Exit(1)
	}
	baseDir, taskID, skill := args[0], args[1], args[2]
	layout := statemanager.NewLayout(baseDir)

	clk := clock.System{}
	gen := ids.NewGeneratorWithClock(clk.Now)
	sm := statemanager.New(baseDir, clk, gen,
		time.Duration(config.DefaultLockTimeoutSeconds)*time.Second,
		time.Duration(config.DefaultLockPollMillis)*time.Millisecond)

	status := loadStatus(layout)
	task := findTask(status, taskID)
	if task == nil {
		fmt.Fprintf(os.Stderr, "task %s not found in status.json\n", taskID)
		os.Exit(1)
	}
	kind, _ := task.TaskSpec["kind"].(string)

	ev := orchevents.NewBuilder(orchevents.TaskSkillSet, "human", baseDirProject(baseDir)).
		Task(taskID).
		Payload("skill", skill).
		Payload("kind", kind).
		Build()
	if _, err := sm.Append(context.Background(), ev); err != nil {
		fmt.Fprintf(os.Stderr, "failed to record TASK_SKILL_SET: %v\n", err)
		os.Exit(1)
	}

	if kind != "" {
		if err := skillrouter.UpdateSkillMemory(layout.TeamFile(), kind, skill); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remember skill choice: %v\n", err)
		}
	}
	fmt.Printf("recorded skill %q for task %s\n", skill, taskID)
}

func cmdTick(args []string) {
	baseDir := resolveBaseDir(args)
	project := baseDirProject(baseDir)

	clk := clock.System{}
	gen := ids.NewGeneratorWithClock(clk.Now)
	sm := statemanager.New(baseDir, clk, gen,
		time.Duration(config.DefaultLockTimeoutSeconds)*time.Second,
		time.Duration(config.DefaultLockPollMillis)*time.Millisecond)

	cfg := defaultDryRunConfig(baseDir)

	orch := orchestrator.New(sm, cfg, project, orchestrator.NoopSpawner{}, notify.NewStdoutSink())
	result, err := orch.Tick(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "tick failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(result.Status, "", "  ")
	fmt.Println(string(out))
}

// defaultDryRunConfig builds a Config for `orchctl tick` from the
// package defaults, bypassing config.Load (which requires base_dir from
// a config file or ORCH_BASE_DIR) so the CLI works against a bare
// project directory.
func defaultDryRunConfig(baseDir string) *config.Config {
	return &config.Config{
		BaseDir:              baseDir,
		HeartbeatTimeoutSec:  config.DefaultHeartbeatTimeoutSec,
		WorkerTimeoutMin:     config.DefaultWorkerTimeoutMin,
		MaxRetries:           config.DefaultMaxRetries,
		RetryDelaySeconds:    config.DefaultRetryDelaySeconds,
		StaleRunAfterMinutes: config.DefaultStaleRunAfterMinutes,
		LockTimeoutSeconds:   config.DefaultLockTimeoutSeconds,
		LockPollMillis:       config.DefaultLockPollMillis,
	}
}

func loadStatus(layout statemanager.Layout) reducer.Status {
	data, err := os.ReadFile(layout.StatusFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status.json unavailable: %v\n", err)
		os.Exit(1)
	}
	var status reducer.Status
	if err := json.Unmarshal(data, &status); err != nil {
		fmt.Fprintf(os.Stderr, "status.json corrupt: %v\n", err)
		os.Exit(1)
	}
	return status
}

func findTask(status reducer.Status, taskID string) *reducer.TaskView {
	for i := range status.Tasks {
		if status.Tasks[i].TaskID == taskID {
			return &status.Tasks[i]
		}
	}
	return nil
}

func readSkillMemory(layout statemanager.Layout) map[string]string {
	data, err := os.ReadFile(layout.TeamFile())
	if err != nil {
		return nil
	}
	var doc struct {
		Defaults struct {
			SkillMemory map[string]string `json:"skillMemory"`
		} `json:"defaults"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Defaults.SkillMemory
}

// baseDirProject derives the project name from team.json when
// present, falling back to the base directory's own name.
func baseDirProject(baseDir string) string {
	layout := statemanager.NewLayout(baseDir)
	data, err := os.ReadFile(layout.TeamFile())
	if err == nil {
		var doc struct {
			Project string `json:"project"`
		}
		if json.Unmarshal(data, &doc) == nil && doc.Project != "" {
			return doc.Project
		}
	}
	return baseDir
}
