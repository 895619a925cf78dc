package storage

// Status is the alert lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAnalyzing Status = "ANALYZING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExecuting Status = "EXECUTING"
	StatusExecuted  Status = "EXECUTED"
)

// 合法的状态迁移；EXECUTING -> APPROVED 为失败重试路径。
var transitions = map[Status][]Status{
	StatusPending:   {StatusAnalyzing},
	StatusAnalyzing: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusExecuted, StatusApproved},
}

// OpenStatuses may hold at most one alert per symbol.
var OpenStatuses = []Status{StatusPending, StatusAnalyzing, StatusApproved}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether s blocks new alerts for the same symbol.
func (s Status) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing edges.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func openStatusStrings() []string {
	out := make([]string, len(OpenStatuses))
	for i, s := range OpenStatuses {
		out[i] = string(s)
	}
	return out
}
