package contextmgr

import (
	"fmt"

	"github.com/riftloop/agentkernel/internal/durablestore"
	"github.com/riftloop/agentkernel/internal/kernel"
)

// toolResultCharThreshold is the default cumulative-character budget beyond
// which the oldest large Tool messages are compacted to a stub.
const toolResultCharThreshold = 70_000

// CompactLargeToolResults computes the total character count of Tool-role
// messages and, if it exceeds threshold, replaces the oldest Tool messages
// with compact stubs referencing their tool_call_id (archiving the full
// content in store first) until the remaining total falls within threshold.
// The most recent Tool messages are left expanded, per spec.md §4.1.e: old
// bulk is archived first, recent tool output stays visible. Runs just
// before the provider call, after Prepare, so it only ever shrinks payload
// size rather than participating in the token-budget fold itself.
func CompactLargeToolResults(messages []kernel.Message, store *durablestore.Store, threshold int) []kernel.Message {
	if threshold <= 0 {
		threshold = toolResultCharThreshold
	}

	out := make([]kernel.Message, len(messages))
	copy(out, messages)

	total := 0
	for _, msg := range out {
		if msg.Role == kernel.RoleTool {
			total += len(msg.Content)
		}
	}
	excess := total - threshold
	if excess <= 0 {
		return out
	}

	for i, msg := range out {
		if excess <= 0 {
			break
		}
		if msg.Role != kernel.RoleTool || msg.ToolCallID == "" {
			continue
		}
		size := len(msg.Content)
		if err := store.Put(msg.ToolCallID, msg.Content); err != nil {
			continue
		}
		out[i].Content = fmt.Sprintf(
			"[tool result archived, %d chars — call restore_context with tool_call_id=%q to retrieve it]",
			size, msg.ToolCallID,
		)
		excess -= size
	}
	return out
}
