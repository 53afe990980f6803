package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/scan"
)

// Reconciler is the part of scan.Reconciler the tasks drive.
type Reconciler interface {
	SecurityList(ctx context.Context, date time.Time) (scan.Universe, *scan.Report, error)
	Reconcile(ctx context.Context, ft model.FrameType, at time.Time, u scan.Universe) (*scan.Report, error)
}

const TaskSecurityList = "security_list"

// TaskName is the name of the task reconciling the bars of a frame.
func TaskName(ft model.FrameType) string { return "bars_" + string(ft) }

// RegisteredTasks builds the task graph: the security list gates the day
// bars, the day bars gate every minute frame, week and month stand alone.
func RegisteredTasks() map[string]*Task {
	tasks := map[string]*Task{
		TaskSecurityList: {
			Name:     TaskSecurityList,
			Executor: executeSecurityList,
			OnError:  ErrorModeSkip,
		},
		TaskName(model.FrameDay): {
			Name:      TaskName(model.FrameDay),
			DependsOn: []string{TaskSecurityList},
			Executor:  executeBars(model.FrameDay),
			OnError:   ErrorModeSkip,
		},
	}
	for _, ft := range []model.FrameType{model.FrameWeek, model.FrameMonth} {
		tasks[TaskName(ft)] = &Task{
			Name:     TaskName(ft),
			Executor: executeBars(ft),
			OnError:  ErrorModeSkip,
		}
	}
	for _, ft := range model.MinuteFrames {
		tasks[TaskName(ft)] = &Task{
			Name:      TaskName(ft),
			DependsOn: []string{TaskName(model.FrameDay)},
			Executor:  executeBars(ft),
			OnError:   ErrorModeSkip,
		}
	}
	return tasks
}

// TaskNames lists the tasks of one unit of a stream. Day streams check the
// security list first and may carry minute frames along.
func TaskNames(stream model.FrameType, with ...model.FrameType) []string {
	var names []string
	if stream == model.FrameDay {
		names = append(names, TaskSecurityList)
	}
	names = append(names, TaskName(stream))
	for _, ft := range with {
		if ft != stream {
			names = append(names, TaskName(ft))
		}
	}
	return names
}

func executeSecurityList(ctx context.Context, rec Reconciler, args *TaskArgs) (*TaskResult, error) {
	u, rep, err := rec.SecurityList(ctx, args.Unit)
	if err != nil {
		return &TaskResult{Report: rep}, err
	}
	args.Universe = u
	return &TaskResult{State: StateCompleted, Report: rep}, nil
}

func executeBars(ft model.FrameType) TaskFunc {
	return func(ctx context.Context, rec Reconciler, args *TaskArgs) (*TaskResult, error) {
		var u scan.Universe
		if ft == model.FrameDay {
			u = args.Universe
		}
		rep, err := rec.Reconcile(ctx, ft, args.Unit, u)
		if err != nil {
			return &TaskResult{Report: rep}, fmt.Errorf("%s %s: %w", ft, args.Unit.Format(time.DateOnly), err)
		}
		return &TaskResult{State: StateCompleted, Report: rep, Message: reportMessage(rep)}, nil
	}
}

func reportMessage(rep *scan.Report) string {
	if rep == nil {
		return ""
	}
	return fmt.Sprintf("extra=%d missing=%d mismatch=%d", len(rep.Verdict.Extra), len(rep.Verdict.Missing), len(rep.Mismatches))
}
