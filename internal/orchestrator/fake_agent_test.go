package orchestrator

import (
	"context"

	"github.com/dotcommander/cogsidecar/internal/agent"
)

// fakeAgent is a stub Agent for tests; no subprocess is ever spawned.
type fakeAgent struct {
	initHandle string
	initErr    error

	resumeResults []agent.Result
	resumeErrs    []error
	resumeCalls   []string // captures userMessage per call, in order

	resumeIdx int
}

func (f *fakeAgent) InitSession(ctx context.Context, systemPrompt string, opts agent.CallOptions) (string, error) {
	if f.initErr != nil {
		return "", f.initErr
	}
	if f.initHandle == "" {
		return "handle-1", nil
	}
	return f.initHandle, nil
}

func (f *fakeAgent) Resume(ctx context.Context, handle, userMessage string, opts agent.CallOptions) (agent.Result, error) {
	f.resumeCalls = append(f.resumeCalls, userMessage)

	idx := f.resumeIdx
	f.resumeIdx++

	if idx < len(f.resumeErrs) && f.resumeErrs[idx] != nil {
		return agent.Result{}, f.resumeErrs[idx]
	}
	if idx < len(f.resumeResults) {
		return f.resumeResults[idx], nil
	}
	return agent.Result{Outcome: agent.OutcomeOK, Text: "SKIP"}, nil
}
