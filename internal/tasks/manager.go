// Package tasks runs named background tasks with at-least-once delivery. Tasks
// are persisted before they are queued, so a full queue or a restart never
// loses work.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/metrics"
	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
	"shopsync/internal/ws"
)

const (
	DefaultQueueCapacity = 256
	DefaultMaxAttempts   = 5
	DefaultPollInterval  = 5 * time.Second
	DefaultRetention     = 7 * 24 * time.Hour

	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 5 * time.Minute
	maintenanceInterval   = 30 * time.Minute
	tempFileMaxAge        = 6 * time.Hour
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrUnknownTask = errors.New("unknown task")
)

// Handler executes one task. A returned error schedules a retry unless it is
// permanent or attempts are exhausted.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Config struct {
	Store          *store.Store
	Hub            *ws.Hub
	Metrics        *metrics.Metrics
	Concurrency    int
	QueueCapacity  int
	MaxAttempts    int
	Retention      time.Duration
	PollInterval   time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// CleanupTemp removes stale downloaded sources during maintenance.
	CleanupTemp func(now time.Time, maxAge time.Duration) (int, error)
}

type Manager struct {
	store   *store.Store
	hub     *ws.Hub
	metrics *metrics.Metrics
	log     *logging.Logger

	queue chan string
	sem   chan struct{}

	maxAttempts    int
	retention      time.Duration
	pollInterval   time.Duration
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	cleanupTemp    func(now time.Time, maxAge time.Duration) (int, error)

	mu       sync.RWMutex
	handlers map[string]Handler

	now func() time.Time
}

type QueueStats struct {
	Depth    int
	Capacity int
}

func NewManager(cfg Config) *Manager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	m := &Manager{
		store:          cfg.Store,
		hub:            cfg.Hub,
		metrics:        cfg.Metrics,
		log:            logging.Default().With("tasks"),
		queue:          make(chan string, capacity),
		sem:            make(chan struct{}, concurrency),
		maxAttempts:    maxAttempts,
		retention:      cfg.Retention,
		pollInterval:   poll,
		retryBaseDelay: base,
		retryMaxDelay:  maxDelay,
		cleanupTemp:    cfg.CleanupTemp,
		handlers:       make(map[string]Handler),
		now:            func() time.Time { return time.Now().UTC() },
	}
	m.metrics.SetTasksQueueCapacity(capacity)
	return m
}

// Register binds a handler to a task name. Registering twice replaces it.
func (m *Manager) Register(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

func (m *Manager) handler(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	return h, ok
}

// Enqueue persists a task and offers it to the workers. When the queue is
// full the row stays queued and the poller picks it up.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any) (models.Task, error) {
	if _, ok := m.handler(name); !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return models.Task{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	task, err := m.store.CreateTask(ctx, name, data, m.maxAttempts, m.now())
	if err != nil {
		return models.Task{}, err
	}
	if err := m.offer(task.ID); err != nil {
		m.log.Debugf("task %s deferred to poller: %v", task.ID, err)
	}
	return task, nil
}

func (m *Manager) offer(taskID string) error {
	select {
	case m.queue <- taskID:
		m.metrics.SetTasksQueueDepth(len(m.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) QueueStats() QueueStats {
	return QueueStats{Depth: len(m.queue), Capacity: cap(m.queue)}
}

// Recover requeues tasks a previous process left running and offers every
// due task to the workers.
func (m *Manager) Recover(ctx context.Context) error {
	n, err := m.store.ResetRunningTasks(ctx, m.now())
	if err != nil {
		return err
	}
	if n > 0 {
		m.log.InfoFields("requeued interrupted tasks", map[string]any{"event": "tasks_recovered", "count": n})
	}
	return m.pollDue(ctx)
}

func (m *Manager) pollDue(ctx context.Context) error {
	ids, err := m.store.ListDueTaskIDs(ctx, m.now(), cap(m.queue))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.offer(id); err != nil {
			break
		}
	}
	return nil
}

// Run dispatches queued tasks to at most Concurrency workers until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.pollDue(ctx); err != nil && ctx.Err() == nil {
				m.log.Warnf("poll due tasks: %v", err)
			}
		case taskID := <-m.queue:
			m.metrics.SetTasksQueueDepth(len(m.queue))
			select {
			case m.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-m.sem }()
				m.runTask(ctx, taskID)
			}()
		}
	}
}

func (m *Manager) runTask(ctx context.Context, taskID string) {
	task, ok, err := m.store.ClaimTask(ctx, taskID, m.now())
	if err != nil {
		m.log.Warnf("claim task %s: %v", taskID, err)
		return
	}
	if !ok {
		return
	}
	m.metrics.IncTasksStarted(task.Name)
	started := time.Now()

	runErr := m.execute(ctx, task)
	if ctx.Err() != nil && runErr != nil {
		// Shutdown: leave the task running; Recover requeues it.
		return
	}

	if runErr == nil {
		if err := m.store.CompleteTask(context.WithoutCancel(ctx), task.ID, m.now()); err != nil {
			m.log.Errorf("complete task %s: %v", task.ID, err)
		}
		m.metrics.IncTasksCompleted(task.Name, string(models.TaskStatusSucceeded), nil)
		m.metrics.ObserveTaskDuration(task.Name, string(models.TaskStatusSucceeded), time.Since(started))
		return
	}

	code := ErrorCode(runErr)
	msg := runErr.Error()
	if retryable(runErr) && task.Attempts < task.MaxAttempts {
		delay := m.retryDelay(task.Attempts, runErr)
		if err := m.store.RetryTask(ctx, task.ID, msg, code, m.now().Add(delay)); err != nil {
			m.log.Errorf("retry task %s: %v", task.ID, err)
		}
		m.metrics.IncTasksRetried(task.Name)
		m.log.WarnFields("task failed, retrying", map[string]any{
			"event":    "task_retry",
			"task_id":  task.ID,
			"task":     task.Name,
			"attempt":  task.Attempts,
			"delay_ms": delay.Milliseconds(),
			"code":     code,
			"error":    msg,
		})
		return
	}

	if err := m.store.FailTask(ctx, task.ID, msg, code, m.now()); err != nil {
		m.log.Errorf("fail task %s: %v", task.ID, err)
	}
	m.metrics.IncTasksCompleted(task.Name, string(models.TaskStatusFailed), &code)
	m.metrics.ObserveTaskDuration(task.Name, string(models.TaskStatusFailed), time.Since(started))
	m.log.ErrorFields("task failed", map[string]any{
		"event":    "task_failed",
		"task_id":  task.ID,
		"task":     task.Name,
		"attempts": task.Attempts,
		"code":     code,
		"error":    msg,
	})
	m.hub.Publish(ws.Event{
		Type:     ws.EventTaskFailed,
		TenantID: payloadTenant(task.Payload),
		Payload: map[string]any{
			"taskId":    task.ID,
			"name":      task.Name,
			"attempts":  task.Attempts,
			"errorCode": code,
			"error":     msg,
		},
	})
}

func (m *Manager) execute(ctx context.Context, task models.Task) (err error) {
	h, ok := m.handler(task.Name)
	if !ok {
		return Permanent(ErrorCodeUnknownTask, fmt.Errorf("%w: %s", ErrUnknownTask, task.Name))
	}
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(ErrorCodeUnknown, fmt.Errorf("task %s panicked: %v", task.Name, r))
		}
	}()
	return h(ctx, json.RawMessage(task.Payload))
}

// retryDelay grows exponentially per attempt. A storefront Retry-After hint
// wins when it is longer.
func (m *Manager) retryDelay(attempt int, err error) time.Duration {
	base := m.retryBaseDelay
	if ErrorCode(err) == ErrorCodeRateLimited {
		base *= 2
	}
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if delay <= 0 || delay > m.retryMaxDelay {
		delay = m.retryMaxDelay
	}
	var re *remote.Error
	if errors.As(err, &re) && re.RetryAfter > delay {
		delay = min(re.RetryAfter, m.retryMaxDelay)
	}
	return delay
}

func payloadTenant(payload []byte) string {
	var head struct {
		TenantID string `json:"tenantId"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.TenantID
}

// RunMaintenance removes finished tasks and runs past retention together with
// stale temp files, once at start and then periodically.
func (m *Manager) RunMaintenance(ctx context.Context) {
	m.cleanup(ctx)
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(ctx)
		}
	}
}

func (m *Manager) cleanup(ctx context.Context) {
	now := m.now()
	if m.retention > 0 {
		cutoff := now.Add(-m.retention)
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		tasks, err := m.store.DeleteFinishedTasksBefore(callCtx, cutoff)
		cancel()
		if err != nil {
			m.log.Warnf("delete old tasks: %v", err)
		}
		callCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		runs, err := m.store.DeleteFinishedRunsBefore(callCtx, cutoff)
		cancel()
		if err != nil {
			m.log.Warnf("delete old runs: %v", err)
		}
		if tasks > 0 || runs > 0 {
			m.log.InfoFields("retention cleanup", map[string]any{"event": "retention", "tasks": tasks, "runs": runs})
		}
	}
	if m.cleanupTemp != nil {
		if n, err := m.cleanupTemp(now, tempFileMaxAge); err != nil {
			m.log.Warnf("cleanup temp files: %v", err)
		} else if n > 0 {
			m.log.Infof("removed %d stale temp files", n)
		}
	}
}
