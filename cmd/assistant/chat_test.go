package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/research-assistant/internal/adapters/chat"
)

type scriptedResponder struct {
	got []string
}

func (r *scriptedResponder) Handle(_ context.Context, sessionID, text string) (chat.Reply, error) {
	r.got = append(r.got, sessionID+":"+text)
	if text == "boom" {
		return chat.Reply{}, errors.New("storage down")
	}
	return chat.Reply{Text: "ok " + text}, nil
}

func TestChatLoopStopsOnExit(t *testing.T) {
	responder := &scriptedResponder{}
	in := strings.NewReader("/topic\n\nboom\nexit\nnever read\n")
	var out bytes.Buffer

	if err := chatLoop(context.Background(), responder, in, &out, plainRenderer); err != nil {
		t.Fatalf("chatLoop() error = %v", err)
	}
	if len(responder.got) != 2 || responder.got[0] != "cli:/topic" {
		t.Fatalf("unexpected messages %v", responder.got)
	}
	if !strings.Contains(out.String(), "ok /topic") || !strings.Contains(out.String(), "error: storage down") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestChatLoopEndsAtEOF(t *testing.T) {
	responder := &scriptedResponder{}
	var out bytes.Buffer
	if err := chatLoop(context.Background(), responder, strings.NewReader("hello"), &out, plainRenderer); err != nil {
		t.Fatalf("chatLoop() error = %v", err)
	}
	if len(responder.got) != 1 {
		t.Fatalf("expected one message, got %v", responder.got)
	}
}

func TestRootRegistersCommands(t *testing.T) {
	want := map[string]bool{"chat": false, "mcp": false, "domain": false, "newsletter": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing command %s", name)
		}
	}
}
