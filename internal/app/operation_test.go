package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "show",
			parameters: "story-abc",
		},
		{
			name:       "empty parameters",
			operation:  "sync",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, start)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if !op.Started.Equal(start) {
				t.Errorf("Started = %v, want %v", op.Started, start)
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("sync", "", time.Now())
	op.Fail()
	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
}

func TestOperation_Elapsed(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	op := NewOperation("list", "", start)

	if got := op.Elapsed(start.Add(1500 * time.Millisecond)); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}
