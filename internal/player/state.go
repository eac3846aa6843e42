package player

// Mode represents the playback session state.
type Mode int

const (
	// ModeIdle indicates no queue is loaded.
	ModeIdle Mode = iota
	// ModeLoading indicates a queue is being handed to the engine.
	ModeLoading
	// ModePlaying indicates audio is playing.
	ModePlaying
	// ModePaused indicates playback is paused.
	ModePaused
	// ModeBuffering indicates the engine stalled while fetching audio.
	ModeBuffering
	// ModeError indicates an unrecoverable engine error.
	ModeError
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeLoading:
		return "loading"
	case ModePlaying:
		return "playing"
	case ModePaused:
		return "paused"
	case ModeBuffering:
		return "buffering"
	case ModeError:
		return "error"
	default:
		return "unknown"
	}
}

// stateMachine validates session mode transitions. Timer-based nudges are
// deliberately absent: every transition is driven by a caller operation or
// an engine event.
type stateMachine struct {
	current     Mode
	transitions map[Mode][]Mode
	onEnter     map[Mode]func()
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: ModeIdle,
		transitions: map[Mode][]Mode{
			ModeIdle:      {ModeLoading, ModeError},
			ModeLoading:   {ModePlaying, ModeBuffering, ModeLoading, ModeIdle, ModeError},
			ModePlaying:   {ModePaused, ModeBuffering, ModeLoading, ModeIdle, ModeError},
			ModePaused:    {ModePlaying, ModeBuffering, ModeLoading, ModeIdle, ModeError},
			ModeBuffering: {ModePlaying, ModePaused, ModeLoading, ModeIdle, ModeError},
			ModeError:     {ModeIdle, ModeLoading},
		},
		onEnter: make(map[Mode]func()),
	}
}

// transition attempts to move to the target mode, returning false when the
// move is invalid from the current mode.
func (sm *stateMachine) transition(to Mode) bool {
	valid := false
	for _, m := range sm.transitions[sm.current] {
		if m == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}
	sm.current = to
	if fn, ok := sm.onEnter[to]; ok && fn != nil {
		fn()
	}
	return true
}

func (sm *stateMachine) mode() Mode {
	return sm.current
}
