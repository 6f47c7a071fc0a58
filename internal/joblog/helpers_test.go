package joblog

import (
	"context"

	"github.com/mattjoyce/adworker/internal/protocol"
	"github.com/mattjoyce/adworker/internal/worker"
)

type fakeExec struct{}

func (fakeExec) Execute(context.Context, string, []byte) (*worker.Invocation, error) {
	return &worker.Invocation{Stdout: []byte(`[{"id":1},{"id":2}]`)}, nil
}

func newTask() protocol.Task {
	return protocol.NewTask("CampaignService-getCampaignList", map[string]any{
		"clientCustomerId": "123",
		"credentials":      map[string]any{"developer_token": "secret"},
	}, nil)
}
