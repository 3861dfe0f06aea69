package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/store"
)

// AdapterStartPolicy controls how an adapter node reacts to its target
// adapter not already being running.
type AdapterStartPolicy string

const (
	AdapterStartAuto          AdapterStartPolicy = "auto"
	AdapterStartStrictRunning AdapterStartPolicy = "strict_running"
)

// ExecSeed carries the caller-provided overrides to runtime context
// initialization (ctx_seed in the spec's vocabulary).
type ExecSeed struct {
	Variables          map[string]any
	AdapterStartPolicy AdapterStartPolicy
	InterpolationMode  InterpolationMode
}

// Engine executes a workflow's graph definition against an input and
// produces a terminal result. It owns no persistence state of its own; the
// Workflow Service is responsible for recording the result.
type Engine struct {
	adapters   *adapter.Manager
	conditions *ConditionEvaluator
	httpClient *http.Client
}

// NewEngine builds an Engine bound to the given adapter manager.
func NewEngine(adapters *adapter.Manager) (*Engine, error) {
	cond, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		adapters:   adapters,
		conditions: cond,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// runtimeContext is the mutable state threaded through a single execution's
// traversal.
type runtimeContext struct {
	input       map[string]any
	variables   map[string]any
	output      map[string]any
	nodeResults map[string]store.NodeResult

	userID             string
	executionID        string
	workflowID         string
	adapterStartPolicy AdapterStartPolicy
	interpolationMode  InterpolationMode
}

func (rc *runtimeContext) interpolator() *Interpolator {
	return NewInterpolator(rc.input, rc.variables, rc.interpolationMode)
}

// Result is the engine's terminal output.
type Result struct {
	Status      store.ExecutionStatus
	Output      map[string]any
	NodeResults map[string]store.NodeResult
}

// Execute runs def against input, seeded with workflow-level environment
// variables plus any caller overrides in seed.
func (e *Engine) Execute(ctx context.Context, wf *store.Workflow, input map[string]any, executionID string, seed ExecSeed) (Result, error) {
	def := wf.Definition

	adjacency, startNode, err := validateDefinition(def)
	if err != nil {
		return Result{}, err
	}

	policy := seed.AdapterStartPolicy
	if policy == "" {
		policy = AdapterStartAuto
	}
	mode := seed.InterpolationMode
	if mode == "" {
		mode = ModeStrict
	}

	variables := map[string]any{}
	for k, v := range wf.EnvironmentVariables {
		variables[k] = v
	}
	for k, v := range seed.Variables {
		variables[k] = v
	}

	rc := &runtimeContext{
		input:              input,
		variables:          variables,
		output:             map[string]any{},
		nodeResults:        map[string]store.NodeResult{},
		userID:             wf.UserID,
		executionID:        executionID,
		workflowID:         wf.ID.String(),
		adapterStartPolicy: policy,
		interpolationMode:  mode,
	}

	visited := map[string]bool{}
	nodesByID := make(map[string]store.WorkflowNode, len(def.Nodes))
	for _, n := range def.Nodes {
		nodesByID[n.ID] = n
	}

	status := store.ExecutionStatusCompleted
	if err := e.traverse(ctx, startNode, nodesByID, adjacency, rc, visited); err != nil {
		if wfErr, ok := err.(*Error); ok && wfErr.Code == CodeCancelled {
			status = store.ExecutionStatusCancelled
		} else {
			status = store.ExecutionStatusFailed
		}
		return Result{Status: status, Output: rc.output, NodeResults: rc.nodeResults}, err
	}

	return Result{Status: status, Output: rc.output, NodeResults: rc.nodeResults}, nil
}

func (e *Engine) traverse(ctx context.Context, nodeID string, nodesByID map[string]store.WorkflowNode, adjacency map[string][]store.WorkflowEdge, rc *runtimeContext, visited map[string]bool) error {
	if visited[nodeID] {
		return nil
	}
	visited[nodeID] = true

	if err := ctx.Err(); err != nil {
		return &Error{Code: CodeCancelled, Message: "execution cancelled before node " + nodeID}
	}

	node, ok := nodesByID[nodeID]
	if !ok {
		return &Error{Code: CodeInvalidDefinition, Message: "edge references unknown node " + nodeID}
	}

	output, execErr := e.executeNode(ctx, node, rc)
	result := store.NodeResult{Timestamp: time.Now().UTC()}
	if execErr != nil {
		result.Status = "failed"
		result.Error = execErr.Error()
		rc.nodeResults[nodeID] = result
		return execErr
	}
	result.Status = "success"
	result.Output = output
	rc.nodeResults[nodeID] = result

	if node.Type == "end" {
		return nil
	}

	edges := adjacency[nodeID]
	if node.Type == "condition" {
		target, err := selectConditionEdge(edges, output)
		if err != nil {
			return err
		}
		if target == "" {
			return nil
		}
		return e.traverse(ctx, target, nodesByID, adjacency, rc, visited)
	}

	for _, edge := range edges {
		if err := e.traverse(ctx, edge.Target, nodesByID, adjacency, rc, visited); err != nil {
			return err
		}
	}
	return nil
}

func selectConditionEdge(edges []store.WorkflowEdge, conditionOutput any) (string, error) {
	resultMap, ok := conditionOutput.(map[string]any)
	if !ok {
		return "", &Error{Code: CodeInvalidDefinition, Message: "condition node produced no result map"}
	}
	result, _ := resultMap["result"].(bool)
	want := strconv.FormatBool(result)

	var fallback string
	for _, edge := range edges {
		if edge.Condition == want {
			return edge.Target, nil
		}
		if edge.Condition == "" {
			fallback = edge.Target
		}
	}
	return fallback, nil
}

// executeNode dispatches on node.Type to a type-specific executor and
// returns the value recorded as the node's output.
func (e *Engine) executeNode(ctx context.Context, node store.WorkflowNode, rc *runtimeContext) (any, error) {
	switch node.Type {
	case "start":
		return map[string]any{"event": "workflow_started"}, nil
	case "end":
		return e.executeEnd(node, rc)
	case "adapter":
		return e.executeAdapter(ctx, node, rc)
	case "condition":
		return e.executeCondition(node, rc)
	case "delay":
		return e.executeDelay(ctx, node, rc)
	case "transform":
		return e.executeTransform(node, rc)
	case "http":
		return e.executeHTTP(ctx, node, rc)
	case "loop":
		return e.executeLoop(ctx, node, rc)
	case "script":
		return nil, &Error{Code: CodeNotImplemented, Message: "script node type is not implemented"}
	default:
		return nil, &Error{Code: CodeInvalidDefinition, Message: "unknown node type " + node.Type}
	}
}

func (e *Engine) executeEnd(node store.WorkflowNode, rc *runtimeContext) (any, error) {
	outputSpec, _ := node.Config["output"].(map[string]any)
	resolved, err := rc.interpolator().ResolveValue(outputSpec)
	if err != nil {
		return nil, err
	}
	resolvedMap, _ := resolved.(map[string]any)
	for k, v := range resolvedMap {
		rc.output[k] = v
	}
	return resolvedMap, nil
}

func (e *Engine) executeAdapter(ctx context.Context, node store.WorkflowNode, rc *runtimeContext) (any, error) {
	adapterID, _ := node.Config["adapter_id"].(string)
	if adapterID == "" {
		return nil, &Error{Code: CodeInvalidDefinition, Message: "adapter node missing config.adapter_id"}
	}
	paramsRaw, _ := node.Config["parameters"].(map[string]any)
	resolved, err := rc.interpolator().ResolveValue(paramsRaw)
	if err != nil {
		return nil, err
	}
	params, _ := resolved.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	if _, reserved := params["workflow_id"]; reserved {
		return nil, &Error{Code: CodeInvalidDefinition, Message: "adapter node parameters must not set reserved key workflow_id"}
	}

	if err := e.ensureAdapterRunning(ctx, adapterID, rc); err != nil {
		return nil, err
	}

	execCtx := adapter.ExecutionContext{
		RequestID:   rc.executionID,
		UserID:      rc.userID,
		ExecutionID: fmt.Sprintf("%s:%s", rc.executionID, node.ID),
	}
	result, err := e.adapters.ProcessWithAdapter(ctx, adapterID, params, execCtx)
	if err != nil {
		return nil, &Error{Code: CodeNodeFailed, Message: "process_with_adapter failed for " + adapterID, Cause: err}
	}
	if result.Status == "failed" {
		return nil, &Error{Code: CodeNodeFailed, Message: result.Error}
	}

	if outVar, _ := node.Config["output_variable"].(string); outVar != "" {
		rc.variables[outVar] = result.Output
	}
	return result.Output, nil
}

func (e *Engine) ensureAdapterRunning(ctx context.Context, adapterID string, rc *runtimeContext) error {
	reg, err := e.adapters.GetAdapter(adapterID)
	if err != nil {
		return &Error{Code: CodeNodeFailed, Message: "adapter not registered: " + adapterID, Cause: err}
	}
	if reg.State == adapter.StateRunning {
		return nil
	}
	if rc.adapterStartPolicy == AdapterStartStrictRunning {
		return &Error{Code: CodeNotRunning, Message: adapterID + " is not running and adapter_start_policy is strict_running"}
	}
	if ok, startErr := e.adapters.Start(ctx, adapterID); !ok || startErr != nil {
		diagnosis := e.adapters.Diagnose(ctx, adapterID)
		return &Error{Code: CodeStartFailed, Message: "failed to auto-start " + adapterID + ": " + diagnosis, Cause: startErr}
	}
	return nil
}

func (e *Engine) executeCondition(node store.WorkflowNode, rc *runtimeContext) (any, error) {
	expr, _ := node.Config["condition"].(string)
	if expr == "" {
		return nil, &Error{Code: CodeInvalidDefinition, Message: "condition node missing config.condition"}
	}
	result, err := e.conditions.Evaluate(expr, rc.input, rc.variables)
	if err != nil {
		return nil, err
	}
	return map[string]any{"condition": expr, "result": result}, nil
}

func (e *Engine) executeDelay(ctx context.Context, node store.WorkflowNode, rc *runtimeContext) (any, error) {
	seconds := toFloat(node.Config["delay_seconds"])
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, &Error{Code: CodeCancelled, Message: "delay node cancelled"}
	case <-timer.C:
		return map[string]any{"delayed_seconds": seconds}, nil
	}
}

func (e *Engine) executeTransform(node store.WorkflowNode, rc *runtimeContext) (any, error) {
	mappings, _ := node.Config["mappings"].(map[string]any)
	resolved, err := rc.interpolator().ResolveValue(mappings)
	if err != nil {
		return nil, err
	}
	resolvedMap, _ := resolved.(map[string]any)
	if outVar, _ := node.Config["output_variable"].(string); outVar != "" {
		rc.variables[outVar] = resolvedMap
	}
	return resolvedMap, nil
}

func (e *Engine) executeHTTP(ctx context.Context, node store.WorkflowNode, rc *runtimeContext) (any, error) {
	method, _ := node.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	rawURL, _ := node.Config["url"].(string)
	resolvedURL, err := rc.interpolator().ResolveString(rawURL)
	if err != nil {
		return nil, err
	}
	urlStr, _ := resolvedURL.(string)

	var bodyReader io.Reader
	if bodyCfg, ok := node.Config["body"]; ok {
		resolvedBody, err := rc.interpolator().ResolveValue(bodyCfg)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(resolvedBody)
		if err != nil {
			return nil, &Error{Code: CodeNodeFailed, Message: "failed to encode http body", Cause: err}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return nil, &Error{Code: CodeInvalidDefinition, Message: "invalid http node request", Cause: err}
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		resolvedHeaders, err := rc.interpolator().ResolveValue(headers)
		if err != nil {
			return nil, err
		}
		if hm, ok := resolvedHeaders.(map[string]any); ok {
			for k, v := range hm {
				req.Header.Set(k, stringify(v))
			}
		}
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeNodeFailed, Message: "http request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeNodeFailed, Message: "failed to read http response", Cause: err}
	}

	var parsed any
	if json.Unmarshal(respBody, &parsed) != nil {
		parsed = string(respBody)
	}

	out := map[string]any{"status_code": resp.StatusCode, "body": parsed}
	if outVar, _ := node.Config["output_variable"].(string); outVar != "" {
		rc.variables[outVar] = out
	}
	return out, nil
}

func (e *Engine) executeLoop(ctx context.Context, node store.WorkflowNode, rc *runtimeContext) (any, error) {
	itemsCfg, _ := node.Config["items"]
	resolvedItems, err := rc.interpolator().ResolveValue(itemsCfg)
	if err != nil {
		return nil, err
	}
	items, ok := resolvedItems.([]any)
	if !ok {
		return nil, &Error{Code: CodeInvalidDefinition, Message: "loop node config.items must resolve to a list"}
	}

	itemVar, _ := node.Config["item_variable"].(string)
	if itemVar == "" {
		itemVar = "item"
	}
	stepsCfg, _ := node.Config["steps"].([]any)

	var results []any
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Code: CodeCancelled, Message: "loop node cancelled"}
		}
		rc.variables[itemVar] = item
		rc.variables[itemVar+"_index"] = i

		var stepResults []any
		for _, stepRaw := range stepsCfg {
			stepCfg, _ := stepRaw.(map[string]any)
			stepType, _ := stepCfg["type"].(string)
			stepNode := store.WorkflowNode{
				ID:     fmt.Sprintf("%s[%d]", node.ID, i),
				Type:   stepType,
				Config: stepCfg,
			}
			out, err := e.executeNode(ctx, stepNode, rc)
			if err != nil {
				return nil, err
			}
			stepResults = append(stepResults, out)
		}
		results = append(results, stepResults)
	}

	if outVar, _ := node.Config["output_variable"].(string); outVar != "" {
		rc.variables[outVar] = results
	}
	return map[string]any{"iterations": len(items), "results": results}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// validateDefinition checks structural invariants: exactly one start node,
// every edge endpoint resolves, and the graph is acyclic. It returns the
// adjacency map and the start node's ID.
func validateDefinition(def store.WorkflowDefinition) (map[string][]store.WorkflowEdge, string, error) {
	nodesByID := make(map[string]store.WorkflowNode, len(def.Nodes))
	for _, n := range def.Nodes {
		nodesByID[n.ID] = n
	}

	var startNode string
	startCount := 0
	for _, n := range def.Nodes {
		if n.Type == "start" {
			startCount++
			startNode = n.ID
		}
	}
	if startCount != 1 {
		return nil, "", &Error{Code: CodeInvalidDefinition, Message: fmt.Sprintf("definition must have exactly one start node, found %d", startCount)}
	}

	adjacency := make(map[string][]store.WorkflowEdge, len(def.Nodes))
	for _, edge := range def.Edges {
		if _, ok := nodesByID[edge.Source]; !ok {
			return nil, "", &Error{Code: CodeInvalidDefinition, Message: "edge source does not resolve: " + edge.Source}
		}
		if _, ok := nodesByID[edge.Target]; !ok {
			return nil, "", &Error{Code: CodeInvalidDefinition, Message: "edge target does not resolve: " + edge.Target}
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge)
	}

	if err := detectCycle(nodesByID, adjacency); err != nil {
		return nil, "", err
	}

	return adjacency, startNode, nil
}

func detectCycle(nodesByID map[string]store.WorkflowNode, adjacency map[string][]store.WorkflowEdge) error {
	visited := map[string]bool{}
	inStack := map[string]bool{}

	var visit func(id string) error
	visit = func(id string) error {
		if inStack[id] {
			return &Error{Code: CodeInvalidDefinition, Message: "workflow definition contains a cycle at node " + id}
		}
		if visited[id] {
			return nil
		}
		inStack[id] = true
		for _, edge := range adjacency[id] {
			if err := visit(edge.Target); err != nil {
				return err
			}
		}
		inStack[id] = false
		visited[id] = true
		return nil
	}

	for id := range nodesByID {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
