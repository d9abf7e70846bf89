// Package agent implements the priority scheduler that owns all inference
// tasks. Tasks are admitted to slots under a memory budget derived from
// live host memory; a single scheduler goroutine owns the queue and slot
// table, and executors run on worker goroutines so the loop never blocks
// on I/O.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/config"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/types"
)

// Executor runs one admitted task. Implementations must honor context
// cancellation promptly; the scheduler signals cancellation and timeout
// through the context alone.
type Executor interface {
	Execute(ctx context.Context, task types.Task) (*types.TaskResult, error)
}

// ErrStopped is returned by operations invoked after the manager shut down.
var ErrStopped = errors.New("agent manager stopped")

// Status is the scheduler's externally visible state snapshot.
type Status struct {
	Running        bool
	SlotsTotal     int
	SlotsAvailable int
	QueuedCount    int
	PerKindCounts  map[types.TaskKind]int
	MemoryInUseMB  int64
	BudgetMB       int64
	Health         string // "ok", "no-budget", "emergency-stopped"
}

// ConfigUpdate carries a partial scheduler configuration change. Nil
// fields keep their current value. Updates apply to subsequent
// admissions only; running slots are never preempted.
type ConfigUpdate struct {
	MaxConcurrentSlots *int
	SafetyFactor       *float64
	OSReservedMB       *int64
	TaskTimeoutMs      *int64
}

// Manager is the process-wide task scheduler. Create one with NewManager,
// register subscriptions, then Start it.
type Manager struct {
	cfg      config.SchedulerConfig
	executor Executor
	sampler  MemorySampler

	// releaseGrace bounds how long a cancelled or timed-out task may hold
	// its slot while the executor winds down; past it the slot is
	// force-released.
	releaseGrace time.Duration
	// historyCap bounds the terminal-task record kept for GetTask.
	historyCap int

	cmds chan command
	done chan struct{}
	stop chan struct{}

	emitter *events.Emitter

	// Subscriptions; registered before Start, read-only afterwards.
	onCompleted  []func(types.TaskResult)
	onFailed     []func(types.TaskResult)
	onCancelled  []func(types.TaskCancelledEvent)
	onRecomputed []func(types.SlotsRecomputedEvent)
	onEmergency  []func(types.EmergencyStopEvent)
	onHealth     []func(types.SystemHealthEvent)

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager creates a scheduler over the given executor and memory
// sampler. Pass NewMemorySampler() outside tests.
func NewManager(cfg config.SchedulerConfig, executor Executor, sampler MemorySampler) *Manager {
	return &Manager{
		cfg:          cfg,
		executor:     executor,
		sampler:      sampler,
		releaseGrace: 5 * time.Second,
		historyCap:   128,
		cmds:         make(chan command, 64),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
		emitter:      events.NewEmitter(),
	}
}

// OnTaskCompleted registers a completion callback. Call before Start.
func (m *Manager) OnTaskCompleted(fn func(types.TaskResult)) { m.onCompleted = append(m.onCompleted, fn) }

// OnTaskFailed registers a failure callback. Timed-out tasks report here
// with a timeout error kind. Call before Start.
func (m *Manager) OnTaskFailed(fn func(types.TaskResult)) { m.onFailed = append(m.onFailed, fn) }

// OnTaskCancelled registers a cancellation callback. Call before Start.
func (m *Manager) OnTaskCancelled(fn func(types.TaskCancelledEvent)) {
	m.onCancelled = append(m.onCancelled, fn)
}

// OnSlotsRecomputed registers a capacity-change callback. Call before Start.
func (m *Manager) OnSlotsRecomputed(fn func(types.SlotsRecomputedEvent)) {
	m.onRecomputed = append(m.onRecomputed, fn)
}

// OnEmergencyStop registers an emergency-stop callback. Call before Start.
func (m *Manager) OnEmergencyStop(fn func(types.EmergencyStopEvent)) {
	m.onEmergency = append(m.onEmergency, fn)
}

// OnSystemHealth registers a callback for aggregate health transitions.
// The initial health is published when the manager starts. Call before
// Start.
func (m *Manager) OnSystemHealth(fn func(types.SystemHealthEvent)) {
	m.onHealth = append(m.onHealth, fn)
}

// Start launches the scheduler loop and the event emitter. The initial
// memory budget is sampled before the loop accepts work.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		availableMB := m.sampleAvailable()
		m.emitter.Start()
		go m.run(availableMB)
		logging.Scheduler("Agent manager started (max_slots=%d, available_mb=%d)",
			m.cfg.MaxConcurrentSlots, availableMB)
	})
}

// Stop shuts the scheduler down: queued tasks are cancelled, running
// executors are signalled, and Stop returns when every slot has been
// released and all events have been delivered, or when ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and enqueues a task, returning its identifier.
func (m *Manager) Submit(task types.Task) (string, error) {
	if err := validateTask(&task); err != nil {
		return "", err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Timeout <= 0 {
		task.Timeout = time.Duration(m.cfg.TaskTimeoutMs) * time.Millisecond
	}
	task.State = types.TaskQueued

	reply := make(chan submitReply, 1)
	if err := m.send(submitCmd{task: &task, reply: reply}); err != nil {
		return "", err
	}
	r := <-reply
	return r.id, r.err
}

// Cancel requests cancellation of a task. Queued tasks cancel
// immediately; running tasks are signalled and release their slot once
// the executor acknowledges. Returns false for unknown or terminal tasks.
func (m *Manager) Cancel(taskID, reason string) bool {
	reply := make(chan bool, 1)
	if err := m.send(cancelCmd{id: taskID, reason: reason, reply: reply}); err != nil {
		return false
	}
	return <-reply
}

// Status returns a snapshot of scheduler state.
func (m *Manager) Status() Status {
	reply := make(chan Status, 1)
	if err := m.send(statusCmd{reply: reply}); err != nil {
		return Status{Running: false, Health: "stopped"}
	}
	return <-reply
}

// GetTask returns a copy of the task with the given id.
func (m *Manager) GetTask(taskID string) (types.Task, bool) {
	reply := make(chan taskReply, 1)
	if err := m.send(getTaskCmd{id: taskID, reply: reply}); err != nil {
		return types.Task{}, false
	}
	r := <-reply
	return r.task, r.ok
}

// UpdateConfig applies a partial configuration change to subsequent
// admissions.
func (m *Manager) UpdateConfig(update ConfigUpdate) {
	reply := make(chan struct{}, 1)
	if err := m.send(updateConfigCmd{update: update, reply: reply}); err != nil {
		return
	}
	<-reply
}

// RecomputeSlotCapacity re-samples host memory and recomputes the budget
// and effective slot count. The sample happens on the caller's goroutine.
func (m *Manager) RecomputeSlotCapacity() {
	availableMB := m.sampleAvailable()
	reply := make(chan struct{}, 1)
	if err := m.send(recomputeCmd{availableMB: availableMB, reply: reply}); err != nil {
		return
	}
	<-reply
}

// EmergencyStop drops the scheduler to a slotless state: running tasks are
// cancelled, the queue is drained into cancelled, and admissions stop
// until the next explicit recompute restores capacity.
func (m *Manager) EmergencyStop(reason string) {
	reply := make(chan struct{}, 1)
	if err := m.send(emergencyStopCmd{reason: reason, reply: reply}); err != nil {
		return
	}
	<-reply
}

func validateTask(task *types.Task) error {
	if task.Kind == "" {
		return types.Errorf(types.ErrKindValidation, "task kind is required")
	}
	switch task.Kind {
	case types.TaskFileAnalysis, types.TaskBatchAnalysis, types.TaskHealthCheck:
	default:
		return types.Errorf(types.ErrKindValidation, "unknown task kind %q", task.Kind)
	}
	if task.Priority < types.PriorityCritical || task.Priority > types.PriorityBackground {
		return types.Errorf(types.ErrKindValidation, "priority %d out of range", task.Priority)
	}
	if task.Kind.RequiresInference() && task.EstimatedMB <= 0 {
		return types.Errorf(types.ErrKindValidation, "inference task requires a memory estimate")
	}
	return nil
}

func (m *Manager) sampleAvailable() int64 {
	availableMB, err := m.sampler.AvailableMB()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Warn("Memory sample failed, assuming zero headroom: %v", err)
		return 0
	}
	return availableMB
}

// send delivers a command to the loop unless the manager has stopped.
func (m *Manager) send(c command) error {
	select {
	case m.cmds <- c:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// =============================================================================
// SCHEDULER LOOP
// =============================================================================

type command interface{}

type submitReply struct {
	id  string
	err error
}

type taskReply struct {
	task types.Task
	ok   bool
}

type submitCmd struct {
	task  *types.Task
	reply chan submitReply
}

type cancelCmd struct {
	id     string
	reason string
	reply  chan bool
}

type statusCmd struct{ reply chan Status }

type getTaskCmd struct {
	id    string
	reply chan taskReply
}

type updateConfigCmd struct {
	update ConfigUpdate
	reply  chan struct{}
}

type recomputeCmd struct {
	availableMB int64
	reply       chan struct{} // nil for periodic recomputes
}

type emergencyStopCmd struct {
	reason string
	reply  chan struct{}
}

type taskDoneCmd struct {
	id     string
	slotID string
	result *types.TaskResult
	err    error
	ctxErr error
}

type forceReleaseCmd struct {
	id     string
	slotID string
}

// activeSlot is one running-task reservation.
type activeSlot struct {
	slot            types.Slot
	task            *types.Task
	cancel          context.CancelFunc
	cancelRequested bool
	cancelReason    string
	graceTimer      *time.Timer
}

// taskHistory is a bounded record of terminal tasks kept for GetTask;
// live tasks never accrue here, so a long-running process does not grow
// with every task it has ever executed.
type taskHistory struct {
	limit int
	order []string
	byID  map[string]*types.Task
}

func newTaskHistory(limit int) *taskHistory {
	return &taskHistory{limit: limit, byID: make(map[string]*types.Task)}
}

func (h *taskHistory) add(task *types.Task) {
	if h.limit <= 0 {
		return
	}
	if _, ok := h.byID[task.ID]; !ok {
		h.order = append(h.order, task.ID)
	}
	h.byID[task.ID] = task
	for len(h.order) > h.limit {
		delete(h.byID, h.order[0])
		h.order = h.order[1:]
	}
}

func (h *taskHistory) get(id string) (*types.Task, bool) {
	task, ok := h.byID[id]
	return task, ok
}

// loopState is everything the scheduler goroutine owns exclusively.
type loopState struct {
	queue   *readyQueue
	tasks   map[string]*types.Task
	slots   map[string]*activeSlot
	history *taskHistory

	budgetMB       int64
	allocatedMB    int64
	effectiveSlots int
	emergency      bool
	stopping       bool
	lastHealth     string
}

// run is the scheduler loop. It owns queue and slot state exclusively and
// never performs I/O; memory samples and executor work arrive as commands.
func (m *Manager) run(initialAvailableMB int64) {
	st := &loopState{
		queue:   newReadyQueue(),
		tasks:   make(map[string]*types.Task),
		slots:   make(map[string]*activeSlot),
		history: newTaskHistory(m.historyCap),
	}
	m.applyRecompute(st, initialAvailableMB)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if m.cfg.RecomputeIntervalMs > 0 {
		ticker = time.NewTicker(time.Duration(m.cfg.RecomputeIntervalMs) * time.Millisecond)
		tick = ticker.C
		defer ticker.Stop()
	}

	stopCh := m.stop
	for {
		select {
		case c := <-m.cmds:
			m.handle(st, c)
		case <-tick:
			// Sample off-loop; result comes back as a command.
			go func() {
				availableMB := m.sampleAvailable()
				select {
				case m.cmds <- recomputeCmd{availableMB: availableMB}:
				case <-m.done:
				}
			}()
		case <-stopCh:
			m.beginShutdown(st)
			stopCh = nil
		}

		if st.stopping && len(st.slots) == 0 {
			m.emitter.Close()
			close(m.done)
			logging.Scheduler("Agent manager stopped")
			return
		}
	}
}

func (m *Manager) handle(st *loopState, c command) {
	switch cmd := c.(type) {
	case submitCmd:
		m.handleSubmit(st, cmd)
	case cancelCmd:
		cmd.reply <- m.handleCancel(st, cmd.id, cmd.reason)
	case statusCmd:
		cmd.reply <- m.snapshotStatus(st)
	case getTaskCmd:
		if task, ok := st.tasks[cmd.id]; ok {
			cmd.reply <- taskReply{task: *task, ok: true}
		} else if task, ok := st.history.get(cmd.id); ok {
			cmd.reply <- taskReply{task: *task, ok: true}
		} else {
			cmd.reply <- taskReply{}
		}
	case updateConfigCmd:
		m.applyConfigUpdate(st, cmd.update)
		cmd.reply <- struct{}{}
		m.admit(st)
	case recomputeCmd:
		m.applyRecompute(st, cmd.availableMB)
		if cmd.reply != nil {
			cmd.reply <- struct{}{}
		}
		m.admit(st)
	case emergencyStopCmd:
		m.handleEmergencyStop(st, cmd.reason)
		cmd.reply <- struct{}{}
	case taskDoneCmd:
		m.handleTaskDone(st, cmd)
	case forceReleaseCmd:
		m.handleForceRelease(st, cmd)
	}
}

func (m *Manager) handleSubmit(st *loopState, cmd submitCmd) {
	if st.stopping || st.emergency {
		cmd.reply <- submitReply{err: types.Errorf(types.ErrKindValidation, "scheduler is not accepting tasks")}
		return
	}
	task := cmd.task
	st.tasks[task.ID] = task
	st.queue.Push(task)
	logging.TasksDebug("Task %s queued (kind=%s, priority=%s, est_mb=%d)",
		task.ID, task.Kind, task.Priority, task.EstimatedMB)
	cmd.reply <- submitReply{id: task.ID}
	// The median estimate shifts as work arrives.
	m.recomputeEffective(st)
	m.admit(st)
}

func (m *Manager) handleCancel(st *loopState, id, reason string) bool {
	task, ok := st.tasks[id]
	if !ok || task.State.Terminal() {
		return false
	}

	if st.queue.Contains(id) {
		st.queue.Remove(id)
		m.finishCancelled(st, task, reason)
		m.admit(st)
		return true
	}

	if slot, ok := st.slots[id]; ok && !slot.cancelRequested {
		slot.cancelRequested = true
		slot.cancelReason = reason
		slot.cancel()
		slot.graceTimer.Reset(m.releaseGrace)
		logging.Tasks("Task %s cancellation requested (reason=%s)", id, reason)
		return true
	}
	return false
}

func (m *Manager) handleEmergencyStop(st *loopState, reason string) {
	logging.Scheduler("EMERGENCY STOP: %s", reason)
	st.emergency = true
	st.effectiveSlots = 0

	for _, task := range st.queue.Drain() {
		m.finishCancelled(st, task, reason)
	}
	for _, slot := range st.slots {
		if !slot.cancelRequested {
			slot.cancelRequested = true
			slot.cancelReason = reason
			slot.cancel()
			slot.graceTimer.Reset(m.releaseGrace)
		}
	}

	evt := types.EmergencyStopEvent{Reason: reason}
	m.emitter.Publish(func() {
		for _, fn := range m.onEmergency {
			fn(evt)
		}
	})
	m.publishHealth(st)
}

func (m *Manager) beginShutdown(st *loopState) {
	if st.stopping {
		return
	}
	st.stopping = true
	for _, task := range st.queue.Drain() {
		m.finishCancelled(st, task, "scheduler shutdown")
	}
	for _, slot := range st.slots {
		if !slot.cancelRequested {
			slot.cancelRequested = true
			slot.cancelReason = "scheduler shutdown"
			slot.cancel()
			slot.graceTimer.Reset(m.releaseGrace)
		}
	}
}

// admit moves tasks from the queue head into slots while capacity and
// budget allow. The head blocks lower-priority tasks even when they would
// fit; skipping ahead would break priority ordering.
func (m *Manager) admit(st *loopState) {
	if st.stopping || st.emergency {
		return
	}

	for len(st.slots) < st.effectiveSlots {
		head := st.queue.Peek()
		if head == nil {
			return
		}

		if head.EstimatedMB > st.budgetMB {
			// Cannot ever fit; fail it out rather than wedge the queue.
			st.queue.Pop()
			m.finishOversized(st, head)
			continue
		}

		if head.EstimatedMB > st.budgetMB-st.allocatedMB {
			// Fits the total budget but not current headroom; wait for a
			// slot release. Head-of-line blocking is deliberate.
			return
		}

		st.queue.Pop()
		m.startTask(st, head)
	}
}

func (m *Manager) startTask(st *loopState, task *types.Task) {
	task.State = types.TaskRunning
	task.StartedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	slot := &activeSlot{
		slot: types.Slot{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			AllocatedMB: task.EstimatedMB,
			StartedAt:   task.StartedAt,
			Active:      true,
		},
		task:   task,
		cancel: cancel,
	}
	st.slots[task.ID] = slot
	st.allocatedMB += task.EstimatedMB

	// Past the timeout plus the grace window the slot is reclaimed even if
	// the executor never returns.
	slotID := slot.slot.ID
	slot.graceTimer = time.AfterFunc(task.Timeout+m.releaseGrace, func() {
		m.send(forceReleaseCmd{id: task.ID, slotID: slotID})
	})

	logging.Scheduler("Task %s admitted (slot=%s, allocated_mb=%d/%d, slots=%d/%d)",
		task.ID, slot.slot.ID, st.allocatedMB, st.budgetMB, len(st.slots), st.effectiveSlots)

	snapshot := *task
	go func() {
		defer cancel()
		result, err := m.executor.Execute(ctx, snapshot)
		done := taskDoneCmd{id: snapshot.ID, slotID: slotID, result: result, err: err, ctxErr: ctx.Err()}
		select {
		case m.cmds <- done:
		case <-m.done:
		}
	}()
}

func (m *Manager) handleTaskDone(st *loopState, cmd taskDoneCmd) {
	slot, ok := st.slots[cmd.id]
	if !ok || slot.slot.ID != cmd.slotID {
		// Already force-released (or the id was re-admitted for a retry);
		// this executor's outcome no longer owns a slot.
		return
	}
	task := slot.task

	slot.graceTimer.Stop()
	delete(st.slots, cmd.id)
	st.allocatedMB -= slot.slot.AllocatedMB

	switch {
	case slot.cancelRequested:
		m.finishCancelled(st, task, slot.cancelReason)
	case errors.Is(cmd.ctxErr, context.DeadlineExceeded):
		m.finishFailed(st, task, types.ErrKindModelTimeout,
			fmt.Sprintf("task timed out after %v", task.Timeout), cmd.result, types.TaskTimedOut)
	case cmd.err != nil:
		m.finishFailed(st, task, types.Classify(cmd.err), cmd.err.Error(), cmd.result, types.TaskFailed)
	case cmd.result != nil && !cmd.result.Success:
		kind := cmd.result.ErrorKind
		if kind == "" {
			kind = types.ErrKindUnknown
		}
		m.finishFailed(st, task, kind, cmd.result.Error, cmd.result, types.TaskFailed)
	default:
		m.finishCompleted(st, task, cmd.result)
	}

	m.admit(st)
}

// handleForceRelease reclaims the slot of an executor that outlived its
// timeout plus the grace window without acknowledging cancellation. The
// straggler's eventual taskDoneCmd is dropped by the slot-id check above.
func (m *Manager) handleForceRelease(st *loopState, cmd forceReleaseCmd) {
	slot, ok := st.slots[cmd.id]
	if !ok || slot.slot.ID != cmd.slotID {
		return
	}
	task := slot.task

	delete(st.slots, cmd.id)
	st.allocatedMB -= slot.slot.AllocatedMB
	slot.cancel()

	logging.Scheduler("Task %s force-released: executor unresponsive past grace window (slot=%s)",
		task.ID, slot.slot.ID)

	if slot.cancelRequested {
		m.finishCancelled(st, task, slot.cancelReason)
	} else {
		m.finishFailed(st, task, types.ErrKindModelTimeout,
			fmt.Sprintf("executor unresponsive %v past its %v timeout", m.releaseGrace, task.Timeout),
			nil, types.TaskTimedOut)
	}

	m.admit(st)
}

func (m *Manager) finishCompleted(st *loopState, task *types.Task, result *types.TaskResult) {
	task.State = types.TaskCompleted
	task.CompletedAt = time.Now()
	if result == nil {
		result = &types.TaskResult{TaskID: task.ID, Success: true}
	}
	result.TaskID = task.ID
	result.Success = true
	task.Result = result

	logging.Tasks("Task %s completed in %dms", task.ID, result.ExecutionTimeMs)
	evt := *result
	m.emitter.Publish(func() {
		for _, fn := range m.onCompleted {
			fn(evt)
		}
	})
	m.retire(st, task)
}

func (m *Manager) finishFailed(st *loopState, task *types.Task, kind types.ErrorKind, msg string, result *types.TaskResult, state types.TaskState) {
	task.State = state
	task.CompletedAt = time.Now()
	task.Error = msg

	if result == nil {
		result = &types.TaskResult{}
	}
	willRetry := task.RetryCount < task.MaxRetries && kind.Retriable() && !st.stopping && !st.emergency

	result.TaskID = task.ID
	result.Success = false
	result.Error = msg
	result.ErrorKind = kind
	result.WillRetry = willRetry
	task.Result = result

	logging.Tasks("Task %s %s: %s (kind=%s, retry=%d/%d)",
		task.ID, task.State, msg, kind, task.RetryCount, task.MaxRetries)

	evt := *result
	m.emitter.Publish(func() {
		for _, fn := range m.onFailed {
			fn(evt)
		}
	})

	// Scheduler-level retry: the same task identifier re-enters the queue
	// with an incremented retry count.
	if willRetry {
		task.RetryCount++
		task.State = types.TaskQueued
		task.StartedAt = time.Time{}
		task.CompletedAt = time.Time{}
		task.Result = nil
		task.Error = ""
		st.queue.Push(task)
		logging.Tasks("Task %s re-queued (attempt %d of %d)", task.ID, task.RetryCount+1, task.MaxRetries+1)
		return
	}
	m.retire(st, task)
}

func (m *Manager) finishCancelled(st *loopState, task *types.Task, reason string) {
	task.State = types.TaskCancelled
	task.CompletedAt = time.Now()
	task.Error = reason

	logging.Tasks("Task %s cancelled: %s", task.ID, reason)
	evt := types.TaskCancelledEvent{TaskID: task.ID, Reason: reason}
	m.emitter.Publish(func() {
		for _, fn := range m.onCancelled {
			fn(evt)
		}
	})
	m.retire(st, task)
}

func (m *Manager) finishOversized(st *loopState, task *types.Task) {
	msg := fmt.Sprintf("task needs %d MiB but the total budget is %d MiB", task.EstimatedMB, st.budgetMB)
	task.State = types.TaskFailed
	task.CompletedAt = time.Now()
	task.Error = msg
	result := &types.TaskResult{
		TaskID:    task.ID,
		Success:   false,
		Error:     msg,
		ErrorKind: types.ErrKindResourceExhausted,
	}
	task.Result = result

	logging.Scheduler("Task %s failed admission: %s", task.ID, msg)
	evt := *result
	m.emitter.Publish(func() {
		for _, fn := range m.onFailed {
			fn(evt)
		}
	})
	m.retire(st, task)
}

// retire moves a terminal task out of the live table into the bounded
// history.
func (m *Manager) retire(st *loopState, task *types.Task) {
	delete(st.tasks, task.ID)
	st.history.add(task)
}

func (m *Manager) applyConfigUpdate(st *loopState, update ConfigUpdate) {
	if update.MaxConcurrentSlots != nil {
		m.cfg.MaxConcurrentSlots = *update.MaxConcurrentSlots
	}
	if update.SafetyFactor != nil {
		m.cfg.SafetyFactor = *update.SafetyFactor
	}
	if update.OSReservedMB != nil {
		m.cfg.OSReservedMB = *update.OSReservedMB
	}
	if update.TaskTimeoutMs != nil {
		m.cfg.TaskTimeoutMs = *update.TaskTimeoutMs
	}
	m.recomputeEffective(st)
	logging.Scheduler("Configuration updated (max_slots=%d, effective=%d)",
		m.cfg.MaxConcurrentSlots, st.effectiveSlots)
}

func (m *Manager) applyRecompute(st *loopState, availableMB int64) {
	previous := st.effectiveSlots
	st.budgetMB = computeBudgetMB(availableMB, m.cfg.SafetyFactor, m.cfg.OSReservedMB)
	m.recomputeEffective(st)

	if st.effectiveSlots != previous {
		logging.Scheduler("Slot capacity recomputed: %d -> %d (budget_mb=%d)",
			previous, st.effectiveSlots, st.budgetMB)
		evt := types.SlotsRecomputedEvent{
			PreviousSlots: previous,
			NewSlots:      st.effectiveSlots,
			BudgetBytes:   st.budgetMB * 1024 * 1024,
		}
		m.emitter.Publish(func() {
			for _, fn := range m.onRecomputed {
				fn(evt)
			}
		})
	}
	m.publishHealth(st)
}

// recomputeEffective derives the effective slot count from the budget and
// the median estimate across live inference tasks.
func (m *Manager) recomputeEffective(st *loopState) {
	if st.emergency {
		st.effectiveSlots = 0
		return
	}
	var estimates []int64
	for _, task := range st.tasks {
		if !task.State.Terminal() && task.Kind.RequiresInference() {
			estimates = append(estimates, task.EstimatedMB)
		}
	}
	st.effectiveSlots = effectiveSlots(m.cfg.MaxConcurrentSlots, st.budgetMB, p50EstimateMB(estimates))
}

func (m *Manager) snapshotStatus(st *loopState) Status {
	perKind := make(map[types.TaskKind]int)
	for _, task := range st.tasks {
		if !task.State.Terminal() {
			perKind[task.Kind]++
		}
	}

	return Status{
		Running:        !st.stopping,
		SlotsTotal:     st.effectiveSlots,
		SlotsAvailable: availableSlots(st),
		QueuedCount:    st.queue.Len(),
		PerKindCounts:  perKind,
		MemoryInUseMB:  st.allocatedMB,
		BudgetMB:       st.budgetMB,
		Health:         healthOf(st),
	}
}

func healthOf(st *loopState) string {
	switch {
	case st.emergency:
		return "emergency-stopped"
	case st.effectiveSlots == 0:
		return "no-budget"
	}
	return "ok"
}

// availableSlots clamps at zero: a capacity shrink can leave more slots
// occupied than the new effective count while the old ones drain.
func availableSlots(st *loopState) int {
	available := st.effectiveSlots - len(st.slots)
	if available < 0 {
		return 0
	}
	return available
}

// publishHealth emits a system-health event when the aggregate state
// changes.
func (m *Manager) publishHealth(st *loopState) {
	health := healthOf(st)
	if health == st.lastHealth {
		return
	}
	st.lastHealth = health

	evt := types.SystemHealthEvent{
		Health:         health,
		SlotsTotal:     st.effectiveSlots,
		SlotsAvailable: availableSlots(st),
		BudgetMB:       st.budgetMB,
	}
	m.emitter.Publish(func() {
		for _, fn := range m.onHealth {
			fn(evt)
		}
	})
}
