package pipeline

import (
	"github.com/voxpipe/voxpipe/pkg/memory"
	"github.com/voxpipe/voxpipe/pkg/provider/llm"
)

// ContextWindow converts stored turns into chat messages for the generation
// stage. The input is expected newest first (as returned by
// [memory.TurnStore.RecentTurns]); the output is chronological, each turn
// contributing a user message followed by an assistant message. Turns with an
// empty transcript or reply contribute only the half they have.
func ContextWindow(turns []memory.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, 2*len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Transcript != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Transcript})
		}
		if t.ResponseText != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.ResponseText})
		}
	}
	return msgs
}
