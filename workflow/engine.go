package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/scan"
)

// TaskState represents the state of a task execution
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateCompleted TaskState = "completed"
	StateSkipped   TaskState = "skipped"
	StateFailed    TaskState = "failed"
	// StateBlocked marks tasks whose dependency failed.
	StateBlocked TaskState = "blocked"
)

// TaskResult holds the execution result of a task
type TaskResult struct {
	State   TaskState
	Report  *scan.Report
	Message string
	Error   error
}

type ErrorMode int

const (
	ErrorModeStop ErrorMode = iota
	ErrorModeSkip
)

// TaskFunc reconciles one piece of a unit.
type TaskFunc func(ctx context.Context, rec Reconciler, args *TaskArgs) (*TaskResult, error)

// SkipCondition determines if a task should be skipped
type SkipCondition func(ctx context.Context, args *TaskArgs) bool

// Task represents a unit of work with dependencies
type Task struct {
	Name      string
	DependsOn []string
	Executor  TaskFunc
	SkipIf    SkipCondition
	OnError   ErrorMode
}

// TaskArgs is shared by the tasks of one unit. Tasks run one at a time, so
// earlier tasks may leave values for later ones.
type TaskArgs struct {
	Stream   model.FrameType
	Unit     time.Time
	Universe scan.Universe
	Logger   *slog.Logger
}

// TaskExecutor runs a set of tasks in dependency order
type TaskExecutor struct {
	rec   Reconciler
	tasks map[string]*Task
}

func NewTaskExecutor(rec Reconciler, tasks map[string]*Task) *TaskExecutor {
	return &TaskExecutor{rec: rec, tasks: tasks}
}

// Run executes taskNames sequentially. Dependencies outside taskNames are
// ignored. A failed ErrorModeSkip task blocks its dependents and the run
// goes on; a failed ErrorModeStop task ends the run with its error.
func (te *TaskExecutor) Run(ctx context.Context, taskNames []string, args *TaskArgs) (map[string]*TaskResult, error) {
	results := make(map[string]*TaskResult, len(taskNames))
	if len(taskNames) == 0 {
		return results, nil
	}

	order, err := te.topologicalSort(taskNames)
	if err != nil {
		return results, fmt.Errorf("failed to resolve task dependencies: %w", err)
	}
	inSet := make(map[string]bool, len(order))
	for _, name := range order {
		inSet[name] = true
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		task := te.tasks[name]

		if dep, ok := blockedBy(task, inSet, results); ok {
			results[name] = &TaskResult{State: StateBlocked, Message: fmt.Sprintf("dependency %s did not complete", dep)}
			continue
		}
		if task.SkipIf != nil && task.SkipIf(ctx, args) {
			results[name] = &TaskResult{State: StateSkipped, Message: "skipped by condition"}
			continue
		}

		result := te.executeTask(ctx, task, args)
		results[name] = result
		if result.Error != nil && task.OnError == ErrorModeStop {
			return results, fmt.Errorf("task %s failed: %w", name, result.Error)
		}
	}

	return results, nil
}

func blockedBy(task *Task, inSet map[string]bool, results map[string]*TaskResult) (string, bool) {
	for _, dep := range task.DependsOn {
		if !inSet[dep] {
			continue
		}
		r := results[dep]
		if r == nil || (r.State != StateCompleted && r.State != StateSkipped) {
			return dep, true
		}
	}
	return "", false
}

// executeTask turns errors and panics of a task into a failed result.
func (te *TaskExecutor) executeTask(ctx context.Context, task *Task, args *TaskArgs) (result *TaskResult) {
	defer func() {
		if p := recover(); p != nil {
			if args.Logger != nil {
				args.Logger.Error("task panicked", "task", task.Name, "panic", p, "stack", string(debug.Stack()))
			}
			result = &TaskResult{State: StateFailed, Error: fmt.Errorf("task %s panicked: %v", task.Name, p)}
		}
	}()

	result, err := task.Executor(ctx, te.rec, args)
	if err != nil {
		failed := &TaskResult{State: StateFailed, Error: err}
		if result != nil {
			failed.Report = result.Report
		}
		return failed
	}
	if result == nil {
		result = &TaskResult{}
	}
	if result.State == "" {
		result.State = StateCompleted
	}
	return result
}

// topologicalSort orders taskNames so that every task follows the
// dependencies it shares the set with. Ties keep the order of taskNames.
func (te *TaskExecutor) topologicalSort(taskNames []string) ([]string, error) {
	inDegree := make(map[string]int)
	adj := make(map[string][]string)
	position := make(map[string]int)

	for i, name := range taskNames {
		if _, exists := te.tasks[name]; !exists {
			return nil, fmt.Errorf("task %s not found", name)
		}
		if _, dup := position[name]; dup {
			continue
		}
		position[name] = i
		inDegree[name] = 0
	}

	for name := range position {
		for _, dep := range te.tasks[name].DependsOn {
			if _, ok := position[dep]; !ok {
				continue
			}
			adj[dep] = append(adj[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool { return position[queue[i]] < position[queue[j]] })
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, neighbor := range adj[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(order) != len(position) {
		return nil, fmt.Errorf("circular dependency detected")
	}

	return order, nil
}

func (te *TaskExecutor) HasTask(name string) bool {
	_, exists := te.tasks[name]
	return exists
}
