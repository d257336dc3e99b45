package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestScratchpadContentEmptyByDefault(t *testing.T) {
	pad := &Scratchpad{}
	if got := pad.Content(); got != "" {
		t.Fatalf("expected empty content, got %q", got)
	}
}

func TestTodoWriteHandlerRendersChecklistProgress(t *testing.T) {
	pad := &Scratchpad{}
	handler := MakeTodoWriteHandler(pad)

	args, err := json.Marshal(TodoWriteArgs{Items: []TodoItem{
		{Content: "write tests", Status: TodoCompleted},
		{Content: "update docs", Status: TodoInProgress},
		{Content: "ship it", Status: TodoPending},
	}})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	res, err := handler(context.Background(), args)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "1/3 done") {
		t.Fatalf("expected progress summary, got %q", res.Content[0].Text)
	}

	content := pad.Content()
	if !strings.Contains(content, "[x] write tests") {
		t.Fatalf("expected completed item marked [x], got %q", content)
	}
	if !strings.Contains(content, "[~] update docs") {
		t.Fatalf("expected in-progress item marked [~], got %q", content)
	}
	if !strings.Contains(content, "[ ] ship it") {
		t.Fatalf("expected pending item marked [ ], got %q", content)
	}
	if !strings.Contains(content, "plan (1/3 done)") {
		t.Fatalf("expected header with done/total, got %q", content)
	}
}

func TestTodoWriteHandlerRejectsInvalidStatus(t *testing.T) {
	pad := &Scratchpad{}
	handler := MakeTodoWriteHandler(pad)

	args, _ := json.Marshal(TodoWriteArgs{Items: []TodoItem{{Content: "oops", Status: "bogus"}}})
	res, err := handler(context.Background(), args)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError for invalid status")
	}
	if pad.Content() != "" {
		t.Fatalf("scratchpad should not be updated on invalid input, got %q", pad.Content())
	}
}

func TestTodoWriteHandlerReplacesPreviousPlan(t *testing.T) {
	pad := &Scratchpad{}
	handler := MakeTodoWriteHandler(pad)

	first, _ := json.Marshal(TodoWriteArgs{Items: []TodoItem{{Content: "old item", Status: TodoPending}}})
	if _, err := handler(context.Background(), first); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	second, _ := json.Marshal(TodoWriteArgs{Items: []TodoItem{{Content: "new item", Status: TodoPending}}})
	if _, err := handler(context.Background(), second); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	content := pad.Content()
	if strings.Contains(content, "old item") {
		t.Fatalf("expected previous plan to be fully replaced, got %q", content)
	}
	if !strings.Contains(content, "new item") {
		t.Fatalf("expected new plan present, got %q", content)
	}
}
