package player

import "testing"

// TestModeString tests the String() method for Mode.
func TestModeString(t *testing.T) {
	tests := []struct {
		mode     Mode
		expected string
	}{
		{ModeIdle, "idle"},
		{ModeLoading, "loading"},
		{ModePlaying, "playing"},
		{ModePaused, "paused"},
		{ModeBuffering, "buffering"},
		{ModeError, "error"},
		{Mode(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.mode.String(); result != tt.expected {
				t.Errorf("Mode.String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestEngineStateString tests the String() method for EngineState.
func TestEngineStateString(t *testing.T) {
	tests := []struct {
		state    EngineState
		expected string
	}{
		{EngineBuffering, "buffering"},
		{EnginePlaying, "playing"},
		{EnginePaused, "paused"},
		{EngineStopped, "stopped"},
		{EngineEnded, "ended"},
		{EngineErrored, "error"},
		{EngineState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("EngineState.String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestStateMachineTransitions tests the transition validation table.
func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  Mode
		to    Mode
		valid bool
	}{
		{"idle to loading", ModeIdle, ModeLoading, true},
		{"idle to playing rejected", ModeIdle, ModePlaying, false},
		{"idle to paused rejected", ModeIdle, ModePaused, false},
		{"loading to playing", ModeLoading, ModePlaying, true},
		{"loading superseded by loading", ModeLoading, ModeLoading, true},
		{"playing to paused", ModePlaying, ModePaused, true},
		{"playing to buffering", ModePlaying, ModeBuffering, true},
		{"paused to playing", ModePaused, ModePlaying, true},
		{"buffering to playing", ModeBuffering, ModePlaying, true},
		{"playing to idle on queue end", ModePlaying, ModeIdle, true},
		{"error to idle", ModeError, ModeIdle, true},
		{"error to playing rejected", ModeError, ModePlaying, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newStateMachine()
			sm.current = tt.from
			if got := sm.transition(tt.to); got != tt.valid {
				t.Errorf("transition(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.valid)
			}
			if tt.valid && sm.mode() != tt.to {
				t.Errorf("mode after transition = %v, want %v", sm.mode(), tt.to)
			}
			if !tt.valid && sm.mode() != tt.from {
				t.Errorf("mode after rejected transition = %v, want %v", sm.mode(), tt.from)
			}
		})
	}
}

// TestStateMachineOnEnter verifies onEnter hooks fire only on valid
// transitions.
func TestStateMachineOnEnter(t *testing.T) {
	sm := newStateMachine()
	fired := 0
	sm.onEnter[ModePlaying] = func() { fired++ }

	if sm.transition(ModePlaying) {
		t.Fatal("idle -> playing should be rejected")
	}
	if fired != 0 {
		t.Errorf("onEnter fired %d times on rejected transition, want 0", fired)
	}

	sm.transition(ModeLoading)
	sm.transition(ModePlaying)
	if fired != 1 {
		t.Errorf("onEnter fired %d times, want 1", fired)
	}
}
