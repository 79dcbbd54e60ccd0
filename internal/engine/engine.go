package engine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/netguard"
	"github.com/flowline/backend/internal/providers"
	"github.com/flowline/backend/internal/store"
)

const (
	defaultHTTPTimeout   = 30 * time.Second
	defaultShutdownGrace = 15 * time.Second
)

// Engine drives flow executions. One goroutine owns each in-flight
// execution; nodes within it run sequentially.
type Engine struct {
	store       *store.Store
	providers   *providers.Registry
	mailer      mail.Mailer
	metrics     *metrics.Metrics
	logger      *log.Logger
	httpClient  *http.Client
	httpTimeout time.Duration
	grace       time.Duration

	// validateURL guards http action targets; swapped out in tests that
	// call loopback servers.
	validateURL func(string) error

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	stopping bool
}

// StartResult is the immediate response of StartExecution; the execution
// itself continues asynchronously.
type StartResult struct {
	ExecutionID string `json:"execution_id"`
	FlowName    string `json:"flow_name"`
	Version     int    `json:"version"`
	Status      string `json:"status"`
}

// New builds the engine. Zero config values fall back to defaults.
func New(st *store.Store, reg *providers.Registry, mailer mail.Mailer, m *metrics.Metrics, cfg config.EngineConfig) *Engine {
	httpTimeout := cfg.HTTPActionTimeout
	if httpTimeout <= 0 {
		httpTimeout = defaultHTTPTimeout
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       st,
		providers:   reg,
		mailer:      mailer,
		metrics:     m,
		logger:      log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
		httpClient:  &http.Client{Timeout: httpTimeout},
		httpTimeout: httpTimeout,
		grace:       grace,
		baseCtx:     ctx,
		cancelAll:   cancel,
		validateURL: netguard.CheckURL,
		inflight:    make(map[string]struct{}),
	}
}

// StartExecution validates the flow, commits a running FlowExecution row,
// and launches the run. It returns as soon as the row is committed.
func (e *Engine) StartExecution(ctx context.Context, orgID, flowID, triggerType string, triggerData json.RawMessage) (*StartResult, error) {
	flow, err := e.store.GetFlow(ctx, orgID, flowID)
	if err != nil {
		return nil, err
	}
	ver, err := e.store.LatestFlowVersion(ctx, flowID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil, apperr.New(apperr.KindUpstreamUnavailable, "engine is shutting down")
	}
	e.mu.Unlock()

	exec, err := e.store.CreateExecution(ctx, flowID, ver.Version, triggerType, triggerData)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.inflight[exec.ID] = struct{}{}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ExecutionsRunning.Inc()
	}

	e.wg.Add(1)
	go e.run(orgID, exec, ver)

	return &StartResult{
		ExecutionID: exec.ID,
		FlowName:    flow.Name,
		Version:     ver.Version,
		Status:      store.ExecutionStatusRunning,
	}, nil
}

// run owns one execution from plan to terminal state.
func (e *Engine) run(orgID string, exec *store.FlowExecution, ver *store.FlowVersion) {
	start := time.Now()
	status := store.ExecutionStatusFailed
	defer func() {
		e.mu.Lock()
		delete(e.inflight, exec.ID)
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.ExecutionsRunning.Dec()
			e.metrics.ExecutionsTotal.WithLabelValues(status, exec.TriggerType).Inc()
			e.metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
		}
		e.wg.Done()
	}()

	ctx := e.baseCtx

	g, err := DecodeGraph(ver.Graph)
	if err != nil {
		e.fail(exec.ID, apperr.UserMessage(err), start)
		return
	}
	plan, err := BuildPlan(g)
	if err != nil {
		// The graph admitted a cycle; halt before any node runs.
		e.log(exec.ID, "", "error", "Execution failed: "+apperr.UserMessage(err), nil)
		e.fail(exec.ID, apperr.UserMessage(err), start)
		return
	}

	triggerInputs := decodeTriggerData(exec.TriggerData)
	outputs := make(map[string]interface{}, len(plan))

	for _, nodeID := range plan {
		if cancelled, done := e.checkInterrupted(ctx, exec.ID, start); done {
			if cancelled {
				status = store.ExecutionStatusCancelled
			}
			return
		}

		n, _ := g.NodeByID(nodeID)
		output, err := e.executeNode(ctx, orgID, exec, g, n, triggerInputs, outputs)
		if err != nil {
			msg := apperr.UserMessage(err)
			if ctx.Err() != nil {
				msg = "shutdown"
			}
			e.fail(exec.ID, msg, start)
			return
		}
		outputs[n.ID] = output
	}

	status = store.ExecutionStatusCompleted
	e.finish(exec.ID, store.ExecutionStatusCompleted, "", start)
}

// checkInterrupted looks for a cooperative cancel or an engine shutdown
// between nodes. It reports (cancelled, stop).
func (e *Engine) checkInterrupted(ctx context.Context, executionID string, start time.Time) (bool, bool) {
	if ctx.Err() != nil {
		e.fail(executionID, "shutdown", start)
		return false, true
	}
	current, err := e.store.ExecutionStatus(context.Background(), executionID)
	if err != nil {
		e.logger.Printf("status check for %s: %v", executionID, err)
		return false, false
	}
	if current == store.ExecutionStatusCancelled {
		e.log(executionID, "", "info", "Execution cancelled, halting plan", nil)
		return true, true
	}
	if current != store.ExecutionStatusRunning {
		return false, true
	}
	return false, false
}

func (e *Engine) executeNode(ctx context.Context, orgID string, exec *store.FlowExecution, g *Graph, n *Node, triggerInputs, outputs map[string]interface{}) (map[string]interface{}, error) {
	stepStart := time.Now()
	step, err := e.store.StartStep(ctx, exec.ID, n.ID, n.Type, n.Kind, nil)
	if err != nil {
		return nil, err
	}
	e.log(exec.ID, step.ID, "info", "Executing node: "+n.DisplayName(), nil)

	inputs := make(map[string]interface{})
	for _, pred := range g.Predecessors(n.ID) {
		if out, ok := outputs[pred]; ok {
			inputs[pred] = out
		}
	}

	output, nodeErr := e.dispatch(ctx, orgID, exec, n, triggerInputs, inputs)
	elapsed := time.Since(stepStart).Milliseconds()
	inputJSON := marshalLoose(inputs)

	if nodeErr != nil {
		msg := apperr.UserMessage(nodeErr)
		if ferr := e.store.FailStep(context.Background(), step.ID, msg, elapsed); ferr != nil {
			e.logger.Printf("fail step %s: %v", step.ID, ferr)
		}
		e.log(exec.ID, step.ID, "error", "Node failed: "+msg,
			marshalLoose(map[string]interface{}{"node_id": n.ID, "node_type": n.Type, "error": msg}))
		if e.metrics != nil {
			e.metrics.StepsTotal.WithLabelValues(n.Type, store.StepStatusFailed).Inc()
		}
		return nil, nodeErr
	}

	if err := e.store.CompleteStep(context.Background(), step.ID, inputJSON, marshalLoose(output), elapsed); err != nil {
		e.logger.Printf("complete step %s: %v", step.ID, err)
	}
	if e.metrics != nil {
		e.metrics.StepsTotal.WithLabelValues(n.Type, store.StepStatusCompleted).Inc()
	}
	return output, nil
}

func (e *Engine) dispatch(ctx context.Context, orgID string, exec *store.FlowExecution, n *Node, triggerInputs, inputs map[string]interface{}) (map[string]interface{}, error) {
	switch n.Type {
	case NodeStart, NodeTrigger:
		return triggerInputs, nil
	case NodeEnd:
		return map[string]interface{}{
			"completed": true,
			"inputs":    inputs,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	case NodeCondition:
		var cfg ConditionConfig
		if err := decodeConfig(n, &cfg); err != nil {
			// The evaluator is total; config problems surface in the output.
			return map[string]interface{}{"passed": false, "error": err.Error()}, nil
		}
		return evaluateCondition(cfg.Condition, inputs), nil
	case NodeTransform:
		var cfg TransformConfig
		if err := decodeConfig(n, &cfg); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid transform config", err)
		}
		return applyTransform(cfg, inputs), nil
	case NodeAction:
		return e.runAction(ctx, orgID, n, inputs)
	default:
		if n.IsProviderType() || n.Kind != "" {
			return e.runAction(ctx, orgID, n, inputs)
		}
		e.log(exec.ID, "", "warn", "Unknown node type "+n.Type+", treating as action", nil)
		return e.runAction(ctx, orgID, n, inputs)
	}
}

// fail marks the execution failed. Terminal states are sticky at the store
// layer, so marking after a concurrent cancel is a no-op.
func (e *Engine) fail(executionID, message string, start time.Time) {
	e.finish(executionID, store.ExecutionStatusFailed, message, start)
}

func (e *Engine) finish(executionID, status, message string, start time.Time) {
	if err := e.store.FinishExecution(context.Background(), executionID, status, message, time.Since(start).Milliseconds()); err != nil {
		e.logger.Printf("finish execution %s: %v", executionID, err)
	}
}

func (e *Engine) log(executionID, stepID, level, message string, metadata json.RawMessage) {
	if err := e.store.AppendLog(context.Background(), executionID, stepID, level, message, metadata); err != nil {
		e.logger.Printf("append log for %s: %v", executionID, err)
	}
}

// Shutdown stops accepting work, waits up to the grace window for in-flight
// executions, then cancels them; their runners mark themselves failed with
// error_message "shutdown".
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.stopping = true
	remaining := len(e.inflight)
	e.mu.Unlock()
	if remaining > 0 {
		e.logger.Printf("draining %d in-flight executions (grace %s)", remaining, e.grace)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.grace):
		e.cancelAll()
		<-done
	}
	e.cancelAll()
}

func decodeTriggerData(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"raw": string(raw)}
	}
	return m
}

func marshalLoose(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
