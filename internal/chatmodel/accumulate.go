package chatmodel

import "encoding/json"

// Accumulator consumes a StreamEvent sequence and builds the final
// AssistantMessage, the way every adapter's Chat() convenience method and
// every protocol gateway's non-streaming response path do.
type Accumulator struct {
	text      string
	thinking  string
	thinkSig  string
	toolCalls []ContentBlock
	usage     *Usage
	stop      StopReason
	started   bool
}

// NewAccumulator returns a fresh Accumulator.
func NewAccumulator() *Accumulator { return &Accumulator{} }

// Started reports whether any non-Start event has been fed in yet, the
// dispatch core's rule for whether a stream may still be safely retried.
func (a *Accumulator) Started() bool { return a.started }

// Feed applies one event to the accumulator. It returns the terminal
// AssistantMessage when ev is Done or Error, nil otherwise.
func (a *Accumulator) Feed(ev StreamEvent) *AssistantMessage {
	switch ev.Kind {
	case EventStart:
		return nil
	case EventTextDelta:
		a.started = true
		a.text += ev.TextDelta
		return nil
	case EventThinkingDelta:
		a.started = true
		a.thinking += ev.ThinkingDelta
		return nil
	case EventToolCallStart:
		a.started = true
		a.ensureToolCall(ev.ToolCallIndex, ev.ToolCallID, ev.ToolCallName)
		return nil
	case EventToolCallDelta:
		a.started = true
		return nil
	case EventToolCallEnd:
		a.started = true
		if ev.ToolCall != nil {
			a.setToolCall(ev.ToolCallIndex, *ev.ToolCall)
		}
		return nil
	case EventDone, EventError:
		return a.finalize(ev)
	default:
		return nil
	}
}

func (a *Accumulator) ensureToolCall(index int, id, name string) {
	for len(a.toolCalls) <= index {
		a.toolCalls = append(a.toolCalls, ContentBlock{Kind: BlockToolCall})
	}
	a.toolCalls[index] = ContentBlock{Kind: BlockToolCall, ToolCallID: id, ToolCallName: name, ToolCallArgs: json.RawMessage("{}")}
}

func (a *Accumulator) setToolCall(index int, block ContentBlock) {
	for len(a.toolCalls) <= index {
		a.toolCalls = append(a.toolCalls, ContentBlock{Kind: BlockToolCall})
	}
	a.toolCalls[index] = block
}

func (a *Accumulator) finalize(ev StreamEvent) *AssistantMessage {
	if ev.Message != nil {
		return ev.Message
	}

	content := make([]ContentBlock, 0, 2+len(a.toolCalls))
	if a.thinking != "" {
		content = append(content, ThinkingBlock(a.thinking, a.thinkSig))
	}
	if a.text != "" {
		content = append(content, TextBlock(a.text))
	}
	for _, tc := range a.toolCalls {
		if tc.Kind == BlockToolCall {
			content = append(content, tc)
		}
	}

	stop := a.stop
	if stop == "" {
		stop = StopReasonStop
	}
	if ev.Kind == EventError {
		stop = StopReasonError
	}

	return &AssistantMessage{
		Content:    content,
		Usage:      a.usage,
		StopReason: stop,
	}
}
