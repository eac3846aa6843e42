package content

// SpeechLine is one sentence of plain narration with its synthesized audio.
type SpeechLine struct {
	Text     string `json:"sentence"`
	AudioURL string `json:"audioUrl"`
}

// ConversationLine is one spoken line of a multi-speaker conversation.
type ConversationLine struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"sentence"`
	AudioURL string `json:"audioUrl"`
}

// Article is one narration source: a news story with a plain speech track
// and, optionally, a two-speaker conversation track.
type Article struct {
	ID           string             `json:"_id"`
	Headline     string             `json:"headline"`
	Category     string             `json:"category"`
	Speech       []SpeechLine       `json:"speech"`
	Conversation []ConversationLine `json:"conversation"`
}

// HasDialogue reports whether the article carries a conversation track and
// can therefore be narrated in dialogue mode.
func (a *Article) HasDialogue() bool {
	return len(a.Conversation) > 0
}

// SourceMode selects which utterance projection of a source is active.
type SourceMode int

const (
	// ModeStandard narrates the plain speech track.
	ModeStandard SourceMode = iota
	// ModeDialogue narrates the multi-speaker conversation track.
	ModeDialogue
)

// String returns the string representation of the mode.
func (m SourceMode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeDialogue:
		return "dialogue"
	default:
		return "unknown"
	}
}

// TransitionIndex is the sequence index reserved for transition utterances.
const TransitionIndex = -1

// Utterance is one unit of narration: text plus its audio reference and the
// position it occupies within its owning source. Immutable once created.
type Utterance struct {
	Text          string
	AudioURL      string
	SpeakerLabel  string
	SourceID      string
	SourceIndex   int
	SequenceIndex int
}

// IsTransition reports whether the utterance is a transition clip between
// sources rather than real content.
func (u Utterance) IsTransition() bool {
	return u.SequenceIndex == TransitionIndex
}
