package domain

import (
	"errors"
	"testing"
)

func TestResolveRuntime(t *testing.T) {
	tests := []struct {
		raw  string
		want Runtime
	}{
		{"python", RuntimePython},
		{"PYTHON", RuntimePython},
		{"cpp", RuntimeCPP},
		{"C++", RuntimeCPP},
		{"nodejs", RuntimeNodeJS},
		{"Node", RuntimeNodeJS},
		{"javascript", RuntimeNodeJS},
		{"js", RuntimeNodeJS},
		{"go", RuntimeGo},
		{"GoLang", RuntimeGo},
	}

	for _, tt := range tests {
		got, err := ResolveRuntime(tt.raw)
		if err != nil {
			t.Fatalf("ResolveRuntime(%q) returned error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ResolveRuntime(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolveRuntime_Unsupported(t *testing.T) {
	_, err := ResolveRuntime("ruby")
	if err == nil {
		t.Fatal("expected error for unsupported runtime")
	}
	var unsupported *ErrRuntimeUnsupported
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *ErrRuntimeUnsupported, got %T", err)
	}
	if unsupported.ErrorClass() != "RUNTIME_NOT_SUPPORTED" {
		t.Fatalf("unexpected error class: %s", unsupported.ErrorClass())
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		runtime Runtime
		want    []string
	}{
		{RuntimePython, []string{"python", "main.py"}},
		{RuntimeNodeJS, []string{"node", "index.js"}},
		{RuntimeCPP, []string{"/bin/bash", "run.sh"}},
		{RuntimeGo, []string{"/bin/bash", "run.sh"}},
	}

	for _, tt := range tests {
		got := tt.runtime.Command()
		if len(got) != len(tt.want) {
			t.Fatalf("Command() for %q = %v, want %v", tt.runtime, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Command() for %q = %v, want %v", tt.runtime, got, tt.want)
			}
		}
	}

	if Runtime("ruby").Command() != nil {
		t.Fatal("expected nil command for unresolved runtime")
	}
}

func TestValid(t *testing.T) {
	if !RuntimePython.Valid() {
		t.Fatal("expected python to be valid")
	}
	if Runtime("ruby").Valid() {
		t.Fatal("expected ruby to be invalid")
	}
}
