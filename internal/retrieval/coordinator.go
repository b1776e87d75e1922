package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	trerrors "github.com/trirank/trirank/internal/errors"
)

// Default deadlines for the method fan-out. The per-method budget bounds each
// scorer individually; the global deadline bounds the whole round trip even
// when a task stops responding to cancellation.
const (
	DefaultPerMethodTimeout = 150 * time.Millisecond
	DefaultGlobalDeadline   = 400 * time.Millisecond
)

// Task is one method's unit of work. Run returns the method's ranked items,
// best first; the coordinator assigns the 1-indexed ranks. CPU-bound and
// I/O-bound methods look identical behind this shape.
type Task struct {
	Method Method
	Run    func(ctx context.Context) ([]RankedItem, error)
}

// Coordinator fans a query out to the enabled method tasks, each under its
// own deadline, and assembles uniform ranked lists for fusion. A task that
// errors or times out yields an empty list, never a query failure.
type Coordinator struct {
	perMethodTimeout time.Duration
	globalDeadline   time.Duration
}

// NewCoordinator creates a coordinator. Non-positive durations fall back to
// the defaults.
func NewCoordinator(perMethodTimeout, globalDeadline time.Duration) *Coordinator {
	if perMethodTimeout <= 0 {
		perMethodTimeout = DefaultPerMethodTimeout
	}
	if globalDeadline <= 0 {
		globalDeadline = DefaultGlobalDeadline
	}
	return &Coordinator{
		perMethodTimeout: perMethodTimeout,
		globalDeadline:   globalDeadline,
	}
}

// outcome is what a task goroutine hands back over the results channel.
type outcome struct {
	index int
	items []RankedItem
	err   error
	took  time.Duration
}

// Dispatch runs every task concurrently and returns one ranked list plus one
// terminal report per task, in task order. Failed and timed-out tasks
// contribute empty lists. Dispatch returns by the global deadline even if a
// task ignores cancellation: the straggler's slot is sealed as timed out and
// its late result is discarded.
func (c *Coordinator) Dispatch(ctx context.Context, tasks []Task) ([]RankedList, []MethodReport) {
	lists := make([]RankedList, len(tasks))
	reports := make([]MethodReport, len(tasks))
	for i, task := range tasks {
		lists[i] = RankedList{Method: task.Method, Items: []RankedItem{}}
		reports[i] = MethodReport{Method: task.Method, State: TaskPending}
	}
	if len(tasks) == 0 {
		return lists, reports
	}

	gctx, cancel := context.WithTimeout(ctx, c.globalDeadline)
	defer cancel()

	start := time.Now()

	// Buffered so a straggler's late send never blocks after sealing.
	results := make(chan outcome, len(tasks))
	for i, task := range tasks {
		reports[i].State = TaskRunning
		go func(i int, task Task) {
			taskStart := time.Now()
			tctx, tcancel := context.WithTimeout(gctx, c.perMethodTimeout)
			defer tcancel()

			items, err := task.Run(tctx)
			results <- outcome{index: i, items: items, err: err, took: time.Since(taskStart)}
		}(i, task)
	}

	for remaining := len(tasks); remaining > 0; {
		select {
		case out := <-results:
			remaining--
			c.settle(&reports[out.index], &lists[out.index], out)

		case <-gctx.Done():
			// Seal every task still in flight; its contribution stays empty.
			sealed := 0
			for i := range reports {
				if reports[i].State.Terminal() {
					continue
				}
				reports[i].State = TaskTimedOut
				reports[i].Duration = time.Since(start)
				reports[i].Err = trerrors.MethodTimeout(string(reports[i].Method), c.globalDeadline).Error()
				sealed++
			}
			slog.Warn("retrieval_deadline_elapsed",
				slog.Int("sealed_tasks", sealed),
				slog.Duration("global_deadline", c.globalDeadline))
			return lists, reports
		}
	}

	return lists, reports
}

// settle moves one task to its terminal state and installs its list.
func (c *Coordinator) settle(report *MethodReport, list *RankedList, out outcome) {
	report.Duration = out.took

	switch {
	case out.err == nil:
		report.State = TaskCompleted
		report.ResultCount = len(out.items)
		list.Items = rankItems(out.items)

	case errors.Is(out.err, context.DeadlineExceeded):
		report.State = TaskTimedOut
		report.Err = trerrors.MethodTimeout(string(report.Method), c.perMethodTimeout).Error()
		slog.Warn("retrieval_method_timed_out",
			slog.String("method", string(report.Method)),
			slog.Duration("took", out.took))

	default:
		report.State = TaskFailed
		report.Err = out.err.Error()
		slog.Warn("retrieval_method_failed",
			slog.String("method", string(report.Method)),
			slog.String("error", out.err.Error()))
	}
}

// rankItems assigns contiguous 1-indexed ranks in arrival order. Scorers
// return items best first, so position is rank.
func rankItems(items []RankedItem) []RankedItem {
	ranked := make([]RankedItem, len(items))
	copy(ranked, items)
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// CompletedMethods lists the methods that contributed a full result.
func CompletedMethods(reports []MethodReport) []Method {
	methods := make([]Method, 0, len(reports))
	for _, r := range reports {
		if r.State == TaskCompleted {
			methods = append(methods, r.Method)
		}
	}
	return methods
}

// DegradedMethods lists the methods that failed or timed out.
func DegradedMethods(reports []MethodReport) []Method {
	methods := make([]Method, 0, len(reports))
	for _, r := range reports {
		if r.Degraded() {
			methods = append(methods, r.Method)
		}
	}
	return methods
}
