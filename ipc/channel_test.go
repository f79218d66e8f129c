package ipc

import (
	"os"
	"testing"
	"time"
)

func TestHelloRoundTrip(t *testing.T) {
	ctrl, child, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ctrl.Close()
	defer child.Close()

	if err := ctrl.Send(Message{Type: MsgHello, PID: 4242}, -1); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got, fd, err := child.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if fd != -1 {
		t.Errorf("fd = %d, want -1", fd)
	}
	if got.Type != MsgHello || got.PID != 4242 {
		t.Errorf("got = %+v, want Hello{PID:4242}", got)
	}
}

func TestRecvTimeout(t *testing.T) {
	ctrl, child, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ctrl.Close()
	defer child.Close()

	_, _, err = child.Recv(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewSubjailCarriesFD(t *testing.T) {
	ctrl, child, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ctrl.Close()
	defer child.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := ctrl.Send(Message{Type: MsgNewSubjail}, int(r.Fd())); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got, fd, err := child.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if got.Type != MsgNewSubjail {
		t.Errorf("Type = %v, want MsgNewSubjail", got.Type)
	}
	if fd < 0 {
		t.Error("expected a carried fd")
	}
}

func TestChildCannotAttachFD(t *testing.T) {
	ctrl, child, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ctrl.Close()
	defer child.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()

	err = child.Send(Message{Type: MsgFunctionReturn}, int(r.Fd()))
	if err == nil {
		t.Fatal("expected child-side attach to fail")
	}
}

func TestScriptStringRoundTrip(t *testing.T) {
	ctrl, child, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer ctrl.Close()
	defer child.Close()

	if err := ctrl.Send(Message{Type: MsgScriptString, ScriptText: "print('hi')"}, -1); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	got, _, err := child.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if got.ScriptText != "print('hi')" {
		t.Errorf("ScriptText = %q, want %q", got.ScriptText, "print('hi')")
	}
}
