package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/pkg/domain"
)

// fakePromptExecutor returns canned responses keyed by nothing fancier than
// call order, or a fixed response when only one is configured.
type fakePromptExecutor struct {
	responses []domain.LLMResponse
	requests  []domain.ExecutePromptParams
}

func (f *fakePromptExecutor) ExecutePrompt(ctx context.Context, params domain.ExecutePromptParams) domain.LLMResponse {
	f.requests = append(f.requests, params)

	if len(f.responses) == 0 {
		return domain.LLMResponse{Success: true, Output: "ok"}
	}

	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}

	return response
}

type fakeSubWorkflowRunner struct {
	result domain.SubWorkflowResult
	err    error
	params []domain.RunSubWorkflowParams
}

func (f *fakeSubWorkflowRunner) RunSubWorkflow(ctx context.Context, params domain.RunSubWorkflowParams) (domain.SubWorkflowResult, error) {
	f.params = append(f.params, params)

	return f.result, f.err
}

func newTestExecutor(providers domain.PromptExecutor, runner domain.SubWorkflowRunner) *WorkflowExecutor {
	return NewWorkflowExecutor(WorkflowExecutorDeps{
		Providers:         providers,
		SubWorkflowRunner: runner,
		Logger:            zerolog.Nop(),
	})
}

func newTestContext(variables map[string]any) *domain.ExecutionContext {
	return domain.NewExecutionContext(domain.NewExecutionContextParams{
		WorkflowID: "wf-test",
		Variables:  variables,
	})
}

func agentNode(id string, spec domain.AgentSpec) domain.WorkflowNode {
	return domain.WorkflowNode{
		ID:   id,
		Name: id,
		Type: spec.Kind(),
		Spec: spec,
	}
}

func TestExecute_AgentNode(t *testing.T) {
	providers := &fakePromptExecutor{
		responses: []domain.LLMResponse{{
			Success: true,
			Output:  "a three act outline",
			Usage:   &domain.TokenUsage{PromptTokens: 120, CompletionTokens: 300, TotalTokens: 420},
		}},
	}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(map[string]any{"theme": "redemption"})

	node := agentNode("outline", domain.AgentSpec{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI},
		Agent:    "planner",
	})
	node.Description = "Outline the novel."

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}

	if result.Output != "a three act outline" {
		t.Errorf("output = %v", result.Output)
	}

	output, exists := execCtx.NodeOutputs["outline"]
	if !exists || output.Status != domain.NodeOutputStatusSuccess {
		t.Errorf("node output not recorded: %+v", output)
	}

	if len(execCtx.CompletedNodes) != 1 || execCtx.CompletedNodes[0] != "outline" {
		t.Errorf("completed nodes = %v", execCtx.CompletedNodes)
	}

	if engine.Usage().TotalTokens != 420 {
		t.Errorf("usage = %d, want 420", engine.Usage().TotalTokens)
	}

	if len(providers.requests) != 1 {
		t.Fatalf("expected one provider call, got %d", len(providers.requests))
	}

	if providers.requests[0].SystemPrompt == "" {
		t.Error("agent name should produce a system prompt")
	}
}

func TestExecute_AgentNode_ProviderFailure(t *testing.T) {
	providers := &fakePromptExecutor{
		responses: []domain.LLMResponse{{Success: false, Error: "rate limited"}},
	}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(nil)

	node := agentNode("outline", domain.AgentSpec{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI},
	})

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}

	if !errors.Is(result.Failure, domain.ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", result.Failure)
	}

	if output := execCtx.NodeOutputs["outline"]; output.Status != domain.NodeOutputStatusFailed {
		t.Errorf("failed output not recorded: %+v", output)
	}
}

func TestExecute_GateNode(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantStatus NodeStatus
		wantGate   bool
	}{
		{
			name:       "score below threshold fails the gate",
			output:     `{"score": 65, "notes": "pacing drags"}`,
			wantStatus: NodeStatusFailed,
			wantGate:   true,
		},
		{
			name:       "score above threshold passes",
			output:     `{"score": 85, "notes": "solid"}`,
			wantStatus: NodeStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := &fakePromptExecutor{
				responses: []domain.LLMResponse{{Success: true, Output: tt.output}},
			}

			engine := newTestExecutor(providers, nil)
			execCtx := newTestContext(nil)

			node := agentNode("quality-gate", domain.AgentSpec{
				Provider:      domain.ProviderConfig{Type: domain.ProviderTypeAnthropic},
				Gate:          true,
				GateCondition: "score >= 80",
			})

			result, err := engine.Execute(context.Background(), node, execCtx)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}

			if result.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", result.Status, tt.wantStatus)
			}

			if tt.wantGate {
				if !errors.Is(result.Failure, domain.ErrGateConditionFailed) {
					t.Errorf("expected ErrGateConditionFailed, got %v", result.Failure)
				}

				var gateErr *domain.GateConditionError
				if !errors.As(result.Failure, &gateErr) {
					t.Fatal("expected a GateConditionError")
				}

				// The evaluated output rides along for the walker's retry decision.
				if gateErr.Output == nil {
					t.Error("gate error should carry the evaluated output")
				}
			}
		})
	}
}

func TestExecute_GateNode_ProseCondition(t *testing.T) {
	providers := &fakePromptExecutor{
		responses: []domain.LLMResponse{{Success: true, Output: `{"score": 90}`}},
	}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(nil)

	node := agentNode("quality-gate", domain.AgentSpec{
		Provider:      domain.ProviderConfig{Type: domain.ProviderTypeAnthropic},
		Gate:          true,
		GateCondition: "score is at least 80",
	})

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
}

func TestExecute_ConditionalNode(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(map[string]any{"wordCount": 1500})

	node := domain.WorkflowNode{
		ID:   "branch",
		Name: "branch",
		Type: domain.NodeTypeConditional,
		Spec: domain.ConditionalSpec{Condition: "wordCount > 1000"},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}

	if result.ConditionResult == nil || !*result.ConditionResult {
		t.Error("expected a true condition result")
	}

	if verdict := execCtx.Variables[domain.VariableConditionResult]; verdict != true {
		t.Errorf("conditionResult variable = %v, want true", verdict)
	}
}

func TestExecute_ConditionalNode_BadExpression(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "branch",
		Type: domain.NodeTypeConditional,
		Spec: domain.ConditionalSpec{Condition: "wordCount >"},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}

	if !errors.Is(result.Failure, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", result.Failure)
	}
}

func TestExecute_LoopNode_ForEach(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(map[string]any{
		"chapters": []any{"opening", "midpoint", "finale"},
	})

	node := domain.WorkflowNode{
		ID:   "chapter-loop",
		Name: "chapter-loop",
		Type: domain.NodeTypeLoop,
		Spec: domain.LoopSpec{
			LoopType:         domain.LoopTypeForEach,
			Collection:       "variables.chapters",
			IteratorVariable: "chapter",
			IndexVariable:    "chapterIndex",
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("status = %s, want success: %s", result.Status, result.Error)
	}

	output := result.Output.(LoopOutput)

	if output.IterationCount != 3 {
		t.Errorf("iterations = %d, want 3", output.IterationCount)
	}

	if output.TerminatedBy != loopTerminatedByCollection {
		t.Errorf("terminatedBy = %s", output.TerminatedBy)
	}

	if execCtx.Variables[domain.VariableIterationCount] != 3 {
		t.Errorf("iterationCount variable = %v", execCtx.Variables[domain.VariableIterationCount])
	}

	// Iterator variables keep the final element after the loop.
	if execCtx.Variables["chapter"] != "finale" {
		t.Errorf("chapter = %v, want finale", execCtx.Variables["chapter"])
	}

	if execCtx.Variables["chapterIndex"] != 2 {
		t.Errorf("chapterIndex = %v, want 2", execCtx.Variables["chapterIndex"])
	}

	if len(execCtx.LoopStack) != 0 {
		t.Errorf("loop stack not popped: %v", execCtx.LoopStack)
	}
}

func TestExecute_LoopNode_Count(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "retry-loop",
		Type: domain.NodeTypeLoop,
		Spec: domain.LoopSpec{LoopType: domain.LoopTypeCount, Count: 5},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	output := result.Output.(LoopOutput)

	if output.IterationCount != 5 || output.TerminatedBy != loopTerminatedByCount {
		t.Errorf("output = %+v", output)
	}
}

func TestExecute_LoopNode_WhileHitsSafetyLimit(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(map[string]any{"approved": false})

	node := domain.WorkflowNode{
		ID:   "revision-loop",
		Type: domain.NodeTypeLoop,
		Spec: domain.LoopSpec{
			LoopType:       domain.LoopTypeWhile,
			WhileCondition: "approved === false",
			MaxIterations:  10,
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}

	if !errors.Is(result.Failure, domain.ErrLoopSafetyLimit) {
		t.Errorf("expected ErrLoopSafetyLimit, got %v", result.Failure)
	}

	// Bookkeeping survives the failure: exactly the cap, never one more.
	if execCtx.Variables[domain.VariableIterationCount] != 10 {
		t.Errorf("iterationCount = %v, want 10", execCtx.Variables[domain.VariableIterationCount])
	}
}

func TestExecute_LoopNode_WhileTerminatesByCondition(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "revision-loop",
		Type: domain.NodeTypeLoop,
		Spec: domain.LoopSpec{
			LoopType:       domain.LoopTypeWhile,
			WhileCondition: "iterationCount < 4",
			MaxIterations:  10,
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	output := result.Output.(LoopOutput)

	if output.IterationCount != 4 || output.TerminatedBy != loopTerminatedByCondition {
		t.Errorf("output = %+v", output)
	}
}

func TestExecute_LoopNode_WhileWithoutCapIsRefused(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "unbounded",
		Type: domain.NodeTypeLoop,
		Spec: domain.LoopSpec{LoopType: domain.LoopTypeWhile, WhileCondition: "true"},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !errors.Is(result.Failure, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", result.Failure)
	}
}

func TestExecute_FileNode_WriteAndRead(t *testing.T) {
	engine := newTestExecutor(nil, nil)

	projectFolder := t.TempDir()

	execCtx := domain.NewExecutionContext(domain.NewExecutionContextParams{
		WorkflowID:    "wf-test",
		ProjectFolder: projectFolder,
		Variables:     map[string]any{"draft": "It was a dark and stormy night."},
	})

	writeNode := domain.WorkflowNode{
		ID:   "save-draft",
		Type: domain.NodeTypeFile,
		Spec: domain.FileSpec{
			Operation:            domain.FileOperationWrite,
			TargetPath:           "drafts/chapter-1.md",
			Content:              "# Chapter 1\n\n{{draft}}",
			RequireProjectFolder: true,
		},
	}

	result, err := engine.Execute(context.Background(), writeNode, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("write failed: %s", result.Error)
	}

	written, err := os.ReadFile(filepath.Join(projectFolder, "drafts", "chapter-1.md"))
	if err != nil {
		t.Fatalf("reading back failed: %v", err)
	}

	if string(written) != "# Chapter 1\n\nIt was a dark and stormy night." {
		t.Errorf("content = %q", written)
	}

	readNode := domain.WorkflowNode{
		ID:   "load-draft",
		Type: domain.NodeTypeFile,
		Spec: domain.FileSpec{
			Operation:            domain.FileOperationRead,
			SourcePath:           "drafts/chapter-1.md",
			RequireProjectFolder: true,
		},
	}

	result, err = engine.Execute(context.Background(), readNode, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	output := result.Output.(FileOutput)

	if output.Content != string(written) {
		t.Errorf("read content mismatch")
	}
}

func TestExecute_FileNode_SandboxViolation(t *testing.T) {
	engine := newTestExecutor(nil, nil)

	execCtx := domain.NewExecutionContext(domain.NewExecutionContextParams{
		WorkflowID:    "wf-test",
		ProjectFolder: t.TempDir(),
	})

	node := domain.WorkflowNode{
		ID:   "escape",
		Type: domain.NodeTypeFile,
		Spec: domain.FileSpec{
			Operation:            domain.FileOperationWrite,
			TargetPath:           "../outside.txt",
			Content:              "nope",
			RequireProjectFolder: true,
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusFailed {
		t.Fatal("expected the sandbox to refuse the write")
	}

	if !errors.Is(result.Failure, domain.ErrFileSandboxViolation) {
		t.Errorf("expected ErrFileSandboxViolation, got %v", result.Failure)
	}
}

func TestExecute_FileNode_MissingProjectFolder(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "save",
		Type: domain.NodeTypeFile,
		Spec: domain.FileSpec{
			Operation:            domain.FileOperationWrite,
			TargetPath:           "out.txt",
			RequireProjectFolder: true,
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !errors.Is(result.Failure, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", result.Failure)
	}
}

func TestExecute_UserInputNode(t *testing.T) {
	engine := newTestExecutor(nil, nil)

	node := domain.WorkflowNode{
		ID:   "ask-title",
		Name: "ask-title",
		Type: domain.NodeTypeUserInput,
		Spec: domain.UserInputSpec{Prompt: "Pick a title", Variable: "title"},
	}

	t.Run("waits when the variable is absent", func(t *testing.T) {
		execCtx := newTestContext(nil)

		result, err := engine.Execute(context.Background(), node, execCtx)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		if result.Status != NodeStatusWaiting {
			t.Fatalf("status = %s, want waiting", result.Status)
		}

		output := execCtx.NodeOutputs["ask-title"]
		if output.Status != domain.NodeOutputStatusPending {
			t.Errorf("output status = %s, want pending", output.Status)
		}

		request := result.Output.(UserInputRequest)
		if request.Variable != "title" {
			t.Errorf("request = %+v", request)
		}

		// Waiting is not completion.
		if len(execCtx.CompletedNodes) != 0 {
			t.Errorf("waiting node must not be marked completed")
		}
	})

	t.Run("resolves when the variable is pre-supplied", func(t *testing.T) {
		execCtx := newTestContext(map[string]any{"title": "The Long Way Home"})

		result, err := engine.Execute(context.Background(), node, execCtx)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		if result.Status != NodeStatusSuccess {
			t.Fatalf("status = %s, want success", result.Status)
		}

		if result.Output != "The Long Way Home" {
			t.Errorf("output = %v", result.Output)
		}
	})

	t.Run("waiting leaves no history entry until the node runs", func(t *testing.T) {
		fresh := newTestExecutor(nil, nil)
		execCtx := newTestContext(nil)

		if _, err := fresh.Execute(context.Background(), node, execCtx); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		if got := len(fresh.History()); got != 0 {
			t.Fatalf("history length = %d, want 0 while waiting", got)
		}

		execCtx.Variables["title"] = "The Long Way Home"

		if _, err := fresh.Execute(context.Background(), node, execCtx); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		history := fresh.History()
		if len(history) != 1 {
			t.Fatalf("history length = %d, want 1 after resume", len(history))
		}

		if history[0].Status != domain.NodeOutputStatusSuccess {
			t.Errorf("history status = %s, want success", history[0].Status)
		}
	})

	t.Run("falls back to the default value", func(t *testing.T) {
		withDefault := node
		withDefault.Spec = domain.UserInputSpec{Prompt: "Pick a title", Variable: "title", DefaultValue: "Untitled"}

		execCtx := newTestContext(nil)

		result, err := engine.Execute(context.Background(), withDefault, execCtx)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		if result.Status != NodeStatusSuccess {
			t.Fatalf("status = %s, want success", result.Status)
		}

		if execCtx.Variables["title"] != "Untitled" {
			t.Errorf("variable = %v", execCtx.Variables["title"])
		}
	})
}

func TestExecute_SubWorkflowNode(t *testing.T) {
	runner := &fakeSubWorkflowRunner{
		result: domain.SubWorkflowResult{
			Output:    map[string]any{"summary": "chapter arc complete"},
			Variables: map[string]any{"chapterDone": true},
		},
	}

	engine := newTestExecutor(nil, runner)
	execCtx := newTestContext(map[string]any{"theme": "loss"})

	node := domain.WorkflowNode{
		ID:   "nested",
		Type: domain.NodeTypeSubWorkflow,
		Spec: domain.SubWorkflowSpec{
			WorkflowID: "chapter-pipeline",
			InputMappings: []domain.InputMapping{
				{Source: "variables.theme", Target: "theme"},
			},
			OutputMappings: []domain.OutputMapping{
				{Source: "summary", Target: "chapterSummary"},
			},
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.Error)
	}

	if len(runner.params) != 1 {
		t.Fatalf("expected one nested run, got %d", len(runner.params))
	}

	if runner.params[0].Variables["theme"] != "loss" {
		t.Errorf("child variables = %v", runner.params[0].Variables)
	}

	if execCtx.Variables["chapterSummary"] != "chapter arc complete" {
		t.Errorf("output mapping not applied: %v", execCtx.Variables["chapterSummary"])
	}
}

func TestExecute_SubWorkflowNode_NoRunner(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	node := domain.WorkflowNode{
		ID:   "nested",
		Type: domain.NodeTypeSubWorkflow,
		Spec: domain.SubWorkflowSpec{WorkflowID: "chapter-pipeline"},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !errors.Is(result.Failure, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", result.Failure)
	}
}

func TestExecute_AdvancedBindingMode(t *testing.T) {
	providers := &fakePromptExecutor{}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(map[string]any{"theme": "redemption"})

	execCtx.NodeOutputs["outline"] = domain.NodeOutput{
		NodeID: "outline",
		Status: domain.NodeOutputStatusSuccess,
		Output: map[string]any{"title": "The Long Way Home"},
	}

	node := agentNode("draft", domain.AgentSpec{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI},
	})
	node.ContextConfig = domain.ContextConfig{
		Mode: domain.BindingModeAdvanced,
		Inputs: []domain.InputMapping{
			{Source: "outline.output.title", Target: "bookTitle"},
		},
	}

	result, err := engine.Execute(context.Background(), node, execCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != NodeStatusSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.Error)
	}

	if execCtx.Variables["bookTitle"] != "The Long Way Home" {
		t.Errorf("input mapping not applied: %v", execCtx.Variables["bookTitle"])
	}

	// The variable delta reports what this node added.
	if result.Variables["bookTitle"] != "The Long Way Home" {
		t.Errorf("variable delta = %v", result.Variables)
	}
}

func TestExecute_RecordsHistoryInOrder(t *testing.T) {
	providers := &fakePromptExecutor{}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(nil)

	first := agentNode("outline", domain.AgentSpec{Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI}})
	second := agentNode("draft", domain.AgentSpec{Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI}})

	if _, err := engine.Execute(context.Background(), first, execCtx); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Execute(context.Background(), second, execCtx); err != nil {
		t.Fatal(err)
	}

	history := engine.History()

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	if history[0].NodeID != "outline" || history[1].NodeID != "draft" {
		t.Errorf("history order = %s, %s", history[0].NodeID, history[1].NodeID)
	}
}

func TestExecute_OneOutputPerNode(t *testing.T) {
	providers := &fakePromptExecutor{
		responses: []domain.LLMResponse{
			{Success: true, Output: "first answer"},
			{Success: true, Output: "second answer"},
		},
	}

	engine := newTestExecutor(providers, nil)
	execCtx := newTestContext(nil)

	node := agentNode("outline", domain.AgentSpec{Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI}})

	if _, err := engine.Execute(context.Background(), node, execCtx); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Execute(context.Background(), node, execCtx); err != nil {
		t.Fatal(err)
	}

	// First write wins; re-execution does not overwrite the recorded output.
	if execCtx.NodeOutputs["outline"].Output != "first answer" {
		t.Errorf("output = %v, want the first answer", execCtx.NodeOutputs["outline"].Output)
	}

	if len(execCtx.NodeOutputs) != 1 {
		t.Errorf("expected one recorded output, got %d", len(execCtx.NodeOutputs))
	}
}

func TestExecute_NilSpec(t *testing.T) {
	engine := newTestExecutor(nil, nil)
	execCtx := newTestContext(nil)

	_, err := engine.Execute(context.Background(), domain.WorkflowNode{ID: "broken"}, execCtx)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
