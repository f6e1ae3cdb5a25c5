package executor

import (
	"context"
	"sync"

	"github.com/storyloom/storyloom/pkg/domain"
)

// HistoryRecorder keeps the ordered list of node outputs produced during a
// run for the host to inspect after completion.
type HistoryRecorder struct {
	entries []domain.NodeOutput
	mutex   sync.Mutex
}

func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{
		entries: []domain.NodeOutput{},
	}
}

func (h *HistoryRecorder) HandleEvent(ctx context.Context, event domain.ExecutionEvent) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch e := event.(type) {
	case domain.NodeExecutionCompletedEvent:
		h.entries = append(h.entries, e.Output)
	case domain.NodeExecutionFailedEvent:
		errorMessage := ""
		if e.Error != nil {
			errorMessage = e.Error.Error()
		}

		h.entries = append(h.entries, domain.NodeOutput{
			NodeID:    e.NodeID,
			Status:    domain.NodeOutputStatusFailed,
			Output:    errorMessage,
			Timestamp: e.Timestamp,
		})
	}

	return nil
}

func (h *HistoryRecorder) Entries() []domain.NodeOutput {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	entries := make([]domain.NodeOutput, len(h.entries))
	copy(entries, h.entries)

	return entries
}

// UsageCollector aggregates token usage across the run, per provider and in
// total.
type UsageCollector struct {
	total      domain.TokenUsage
	byProvider map[domain.ProviderType]domain.TokenUsage
	mutex      sync.Mutex
}

func NewUsageCollector() *UsageCollector {
	return &UsageCollector{
		byProvider: map[domain.ProviderType]domain.TokenUsage{},
	}
}

// Record accumulates usage reported by a provider call.
func (u *UsageCollector) Record(provider domain.ProviderType, usage *domain.TokenUsage) {
	if usage == nil {
		return
	}

	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.total = u.total.Add(*usage)
	u.byProvider[provider] = u.byProvider[provider].Add(*usage)
}

func (u *UsageCollector) Total() domain.TokenUsage {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return u.total
}

func (u *UsageCollector) ByProvider() map[domain.ProviderType]domain.TokenUsage {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	byProvider := make(map[domain.ProviderType]domain.TokenUsage, len(u.byProvider))
	for provider, usage := range u.byProvider {
		byProvider[provider] = usage
	}

	return byProvider
}
