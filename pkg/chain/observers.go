package chain

import "time"

// ExecutionObserver isolates cross-cutting concerns (structured logging,
// debug recording, metrics) from the Engine's core dispatch logic. An
// Engine may carry any number of observers; they are notified in
// registration order and must not block or mutate the ExecutionContext —
// observation is read-only by contract.
type ExecutionObserver interface {
	// OnStart fires at the start of each execution attempt, after the
	// chain has been validated and its plan built (once per
	// ChainRetryWithDifferentParams restart as well). runID
	// identifies this particular execution (§6.1) and is repeated on every
	// subsequent callback for the same run, so an observer shared across
	// concurrent Run calls on the same Engine (§8 invariant 8) can
	// correlate events without keeping its own per-run state.
	OnStart(runID, chainID string, ctx *ExecutionContext)

	// OnStepStart fires when a step enters the Running state (both gates
	// passed), before its executor or composite handling is invoked.
	OnStepStart(runID, stepID string)

	// OnStepEnd fires when a step reaches a terminal state (Succeeded,
	// Failed, or Skipped).
	OnStepEnd(runID, stepID string, result StepResult, skipped bool)

	// OnFinish fires once, when Run returns, with the final outputs or
	// error.
	OnFinish(runID string, outputs map[string]Value, err error)
}

// StepRecord is one step's lifecycle summary, as captured by a
// DebugRecorder (§9 "Supplemented features": generalizes the teacher's
// ChainDebugRecorder from a single ReAct cycle to an arbitrary DAG run).
type StepRecord struct {
	RunID    string
	StepID   string
	Skipped  bool
	Err      error
	Duration time.Duration
	Outputs  map[string]Value
}

// DebugRecorder is an ExecutionObserver that accumulates a StepRecord per
// dispatched step, for later inspection by the embedding code or a test
// assertion. It is safe for concurrent OnStepStart/OnStepEnd calls from
// Parallel siblings: records are appended under a private lock, mirroring
// the fine-grained-critical-section discipline ExecutionContext itself
// uses.
type DebugRecorder struct {
	records   []StepRecord
	startedAt map[string]time.Time
	mu        chan struct{} // binary semaphore; see lock/unlock below
}

// NewDebugRecorder returns an empty DebugRecorder.
func NewDebugRecorder() *DebugRecorder {
	d := &DebugRecorder{
		startedAt: make(map[string]time.Time),
		mu:        make(chan struct{}, 1),
	}
	d.mu <- struct{}{}
	return d
}

func (d *DebugRecorder) lock()   { <-d.mu }
func (d *DebugRecorder) unlock() { d.mu <- struct{}{} }

// OnStart implements ExecutionObserver.
func (d *DebugRecorder) OnStart(runID, chainID string, ctx *ExecutionContext) {}

// OnStepStart implements ExecutionObserver.
func (d *DebugRecorder) OnStepStart(runID, stepID string) {
	d.lock()
	defer d.unlock()
	d.startedAt[runID+"/"+stepID] = time.Now()
}

// OnStepEnd implements ExecutionObserver.
func (d *DebugRecorder) OnStepEnd(runID, stepID string, result StepResult, skipped bool) {
	d.lock()
	defer d.unlock()
	started, ok := d.startedAt[runID+"/"+stepID]
	dur := result.Duration
	if ok && dur == 0 {
		dur = time.Since(started)
	}
	d.records = append(d.records, StepRecord{
		RunID:    runID,
		StepID:   stepID,
		Skipped:  skipped,
		Err:      result.Err,
		Duration: dur,
		Outputs:  result.Outputs,
	})
}

// OnFinish implements ExecutionObserver.
func (d *DebugRecorder) OnFinish(runID string, outputs map[string]Value, err error) {}

// Records returns a snapshot copy of the accumulated step records, in the
// order steps finished (which, across a Parallel block, need not match
// plan order).
func (d *DebugRecorder) Records() []StepRecord {
	d.lock()
	defer d.unlock()
	out := make([]StepRecord, len(d.records))
	copy(out, d.records)
	return out
}

// LoggingObserver is an ExecutionObserver that emits a structured log line
// for each step lifecycle event, via the package's shared zerolog logger
// (logging.go).
type LoggingObserver struct{}

// NewLoggingObserver returns a LoggingObserver.
func NewLoggingObserver() *LoggingObserver { return &LoggingObserver{} }

func (o *LoggingObserver) OnStart(runID, chainID string, ctx *ExecutionContext) {
	Log().Info().Str("run_id", runID).Str("chain_id", chainID).Msg("chain execution started")
}

func (o *LoggingObserver) OnStepStart(runID, stepID string) {
	Log().Debug().Str("run_id", runID).Str("step_id", stepID).Msg("step started")
}

func (o *LoggingObserver) OnStepEnd(runID, stepID string, result StepResult, skipped bool) {
	event := Log().Debug()
	if result.Err != nil {
		event = Log().Warn().Err(result.Err)
	}
	event.Str("run_id", runID).
		Str("step_id", stepID).
		Bool("skipped", skipped).
		Dur("duration", result.Duration).
		Msg("step finished")
}

func (o *LoggingObserver) OnFinish(runID string, outputs map[string]Value, err error) {
	event := Log().Info()
	if err != nil {
		event = Log().Error().Err(err)
	}
	event.Str("run_id", runID).Int("output_count", len(outputs)).Msg("chain execution finished")
}
