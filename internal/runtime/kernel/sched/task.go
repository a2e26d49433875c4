package sched

import "sync"

// TaskClass is the scheduling-class discriminant (spec §3/§9: a tagged
// variant instead of a function-pointer table per class).
type TaskClass uint8

const (
	ClassFair TaskClass = iota
	ClassRealTime
	ClassDeadline
)

func (c TaskClass) String() string {
	switch c {
	case ClassFair:
		return "fair"
	case ClassRealTime:
		return "realtime"
	case ClassDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// TaskState is the task's run state.
type TaskState uint8

const (
	TaskRunning TaskState = iota
	TaskRunnable
	TaskBlocked
	TaskZombie
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskRunnable:
		return "runnable"
	case TaskBlocked:
		return "blocked"
	case TaskZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// RTPolicy distinguishes FIFO from round-robin within the RT class.
type RTPolicy uint8

const (
	RTFIFO RTPolicy = iota
	RTRoundRobin
)

const (
	// MaxRTPriority bounds rt_priority to [0, MaxRTPriority) — priority 0
	// is highest.
	MaxRTPriority = 40
	// NiceMin and NiceMax bound the fair class's nice value.
	NiceMin = -20
	NiceMax = 19
)

// Policy is the externally-requested scheduling policy for set_policy
// (spec §6). Exactly one variant applies at a time.
type Policy struct {
	Class TaskClass

	// Fair
	Nice int8

	// RealTime
	RTPolicy    RTPolicy
	RTPriority  uint8
	RRSliceNs   uint64

	// Deadline
	DLRuntimeNs  uint64
	DLDeadlineNs uint64
	DLPeriodNs   uint64
}

// FairPolicy is a convenience constructor.
func FairPolicy(nice int8) Policy { return Policy{Class: ClassFair, Nice: nice} }

// RTFIFOPolicy is a convenience constructor.
func RTFIFOPolicy(priority uint8) Policy {
	return Policy{Class: ClassRealTime, RTPolicy: RTFIFO, RTPriority: priority}
}

// RTRoundRobinPolicy is a convenience constructor.
func RTRoundRobinPolicy(priority uint8, sliceNs uint64) Policy {
	return Policy{Class: ClassRealTime, RTPolicy: RTRoundRobin, RTPriority: priority, RRSliceNs: sliceNs}
}

// DeadlinePolicy is a convenience constructor.
func DeadlinePolicy(runtimeNs, deadlineNs, periodNs uint64) Policy {
	return Policy{Class: ClassDeadline, DLRuntimeNs: runtimeNs, DLDeadlineNs: deadlineNs, DLPeriodNs: periodNs}
}

func (p Policy) validate() error {
	switch p.Class {
	case ClassFair:
		if p.Nice < NiceMin || p.Nice > NiceMax {
			return errInvalidPolicy("nice value out of [-20, 19]")
		}
	case ClassRealTime:
		if p.RTPriority >= MaxRTPriority {
			return errInvalidPolicy("rt priority out of [0, MAX_RT_PRIO)")
		}
	case ClassDeadline:
		if !(p.DLRuntimeNs <= p.DLDeadlineNs && p.DLDeadlineNs <= p.DLPeriodNs) {
			return errInvalidPolicy("deadline policy requires runtime <= deadline <= period")
		}
		if p.DLRuntimeNs == 0 || p.DLPeriodNs == 0 {
			return errInvalidPolicy("deadline policy requires nonzero runtime and period")
		}
	default:
		return errInvalidPolicy("unknown scheduling class")
	}
	return nil
}

// TaskHandle is an opaque index into a TaskPool slot, used by the pool to
// address and free tasks. Runqueues and class trees hold *Task pointers,
// not handles.
type TaskHandle uint32

const nilHandle TaskHandle = ^TaskHandle(0)

// Task is the single struct covering all three scheduling classes, with a
// class discriminant selecting which accounting fields are live (spec §3).
type Task struct {
	handle TaskHandle

	PID           uint64
	Affinity      *BitSet
	PreferredNUMA int // -1 means "no preference"

	Class TaskClass
	State TaskState

	// Fair accounting.
	VRuntime            uint64
	SumExecRuntime      uint64
	PrevSumExecRuntime  uint64
	ExecStart           uint64
	LoadWeight          uint64
	InvWeight           uint64
	UtilAvg             uint32 // smoothed utilization, 0..1024
	NUMAScanCounter      uint64
	InsertSeq           uint64 // fair-tree tiebreak, stamped at enqueue

	// RT accounting.
	RTPolicy        RTPolicy
	RTPriority      uint8
	RRSliceRemaining uint64

	// DL accounting.
	DLRuntimeRemaining uint64
	DLAbsoluteDeadline uint64
	DLPeriod           uint64
	DLRuntime          uint64
	DLBandwidth        float64
	DLThrottled        bool

	CPUOf int

	// onRunqueue is not set or read anywhere in this package; queue
	// membership is known only to the class structures themselves.
	onRunqueue bool
}

// IsIdle reports whether this task is a per-CPU idle placeholder.
func (t *Task) IsIdle() bool { return t.PID == 0 }

// TaskPool is the slot-indexed arena backing every Task in the scheduler.
type TaskPool struct {
	mu      sync.Mutex
	tasks   []*Task
	free    []TaskHandle
	byPID   map[uint64]TaskHandle
}

// NewTaskPool returns an empty pool.
func NewTaskPool() *TaskPool {
	return &TaskPool{byPID: make(map[uint64]TaskHandle)}
}

// Alloc creates a new task with the given PID and returns its handle. The
// returned Task has sane zero-value defaults; callers set Class/State/
// policy-specific fields before activation.
func (p *TaskPool) Alloc(pid uint64, affinity *BitSet) (*Task, TaskHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := &Task{
		PID:           pid,
		Affinity:      affinity,
		PreferredNUMA: -1,
		State:         TaskRunnable,
		LoadWeight:    niceToWeight(0),
		InvWeight:     niceToInvWeight(0),
	}

	var h TaskHandle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
		p.tasks[h] = t
	} else {
		h = TaskHandle(len(p.tasks))
		p.tasks = append(p.tasks, t)
	}
	t.handle = h
	p.byPID[pid] = h
	return t, h
}

// Free releases a task's slot for reuse. Callers must have already removed
// the task from every runqueue/class structure.
func (p *TaskPool) Free(h TaskHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) >= len(p.tasks) || p.tasks[h] == nil {
		return
	}
	delete(p.byPID, p.tasks[h].PID)
	p.tasks[h] = nil
	p.free = append(p.free, h)
}

// Get returns the task for a handle, or nil if freed/out of range.
func (p *TaskPool) Get(h TaskHandle) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) >= len(p.tasks) {
		return nil
	}
	return p.tasks[h]
}

// ByPID resolves a PID to its task, mirroring the lookup the teacher's
// ProcessManager.processes map provided.
func (p *TaskPool) ByPID(pid uint64) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.byPID[pid]
	if !ok {
		return nil
	}
	return p.tasks[h]
}
