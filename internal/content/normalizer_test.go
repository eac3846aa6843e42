package content

import (
	"errors"
	"testing"
)

const transitionURL = "https://cdn.example.com/transition.mp3"

func sampleArticles() []Article {
	return []Article{
		{
			ID:       "a",
			Headline: "Markets rally",
			Speech: []SpeechLine{
				{Text: "a1", AudioURL: "https://cdn.example.com/a1.mp3"},
				{Text: "a2", AudioURL: "https://cdn.example.com/a2.mp3"},
			},
		},
		{
			ID:       "b",
			Headline: "Storm inbound",
			Speech: []SpeechLine{
				{Text: "b1", AudioURL: "https://cdn.example.com/b1.mp3"},
			},
			Conversation: []ConversationLine{
				{Speaker: "Alex", Text: "bd1", AudioURL: "https://cdn.example.com/bd1.mp3"},
				{Speaker: "Sam", Text: "bd2", AudioURL: "https://cdn.example.com/bd2.mp3"},
			},
		},
	}
}

// TestNormalizeStandard verifies flattening with a transition between
// sources, attributed to the source it follows.
func TestNormalizeStandard(t *testing.T) {
	n := NewNormalizer(transitionURL)

	utts, err := n.Normalize(sampleArticles(), ModeStandard)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(utts) != 4 {
		t.Fatalf("utterance count = %d, want 4", len(utts))
	}

	tr := utts[2]
	if !tr.IsTransition() {
		t.Fatalf("utterance 2 = %+v, want transition", tr)
	}
	if tr.SourceID != "a" || tr.SourceIndex != 0 {
		t.Errorf("transition attributed to %s/%d, want a/0", tr.SourceID, tr.SourceIndex)
	}
	if tr.AudioURL != transitionURL {
		t.Errorf("transition audio = %q, want %q", tr.AudioURL, transitionURL)
	}

	if utts[0].Text != "a1" || utts[3].Text != "b1" {
		t.Errorf("content order wrong: %q ... %q", utts[0].Text, utts[3].Text)
	}
	if utts[0].SequenceIndex != 0 || utts[1].SequenceIndex != 1 {
		t.Errorf("sequence indexes = %d,%d, want 0,1", utts[0].SequenceIndex, utts[1].SequenceIndex)
	}
}

// TestNormalizeDialogueFallback verifies dialogue mode uses conversation
// tracks where present and falls back to narration where absent.
func TestNormalizeDialogueFallback(t *testing.T) {
	n := NewNormalizer(transitionURL)

	utts, err := n.Normalize(sampleArticles(), ModeDialogue)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Source a falls back to its two narration lines; source b contributes
	// two dialogue lines; one transition between them.
	if len(utts) != 5 {
		t.Fatalf("utterance count = %d, want 5", len(utts))
	}
	if utts[0].SpeakerLabel != "" {
		t.Errorf("fallback narration has speaker %q", utts[0].SpeakerLabel)
	}
	if utts[3].SpeakerLabel != "Alex" || utts[4].SpeakerLabel != "Sam" {
		t.Errorf("dialogue speakers = %q,%q, want Alex,Sam", utts[3].SpeakerLabel, utts[4].SpeakerLabel)
	}
}

// TestNormalizeSkipsEmptySources verifies empty sources vanish and never
// produce back-to-back transitions.
func TestNormalizeSkipsEmptySources(t *testing.T) {
	n := NewNormalizer(transitionURL)
	articles := []Article{
		{ID: "a", Speech: []SpeechLine{{Text: "a1", AudioURL: "u"}}},
		{ID: "empty"},
		{ID: "c", Speech: []SpeechLine{{Text: "c1", AudioURL: "u"}}},
	}

	utts, err := n.Normalize(articles, ModeStandard)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(utts) != 3 {
		t.Fatalf("utterance count = %d, want 3", len(utts))
	}
	if !utts[1].IsTransition() {
		t.Fatalf("middle utterance = %+v, want transition", utts[1])
	}
	// The transition belongs to the last contributing source before it.
	if utts[1].SourceID != "a" || utts[1].SourceIndex != 0 {
		t.Errorf("transition attributed to %s/%d, want a/0", utts[1].SourceID, utts[1].SourceIndex)
	}
	if utts[2].SourceIndex != 2 {
		t.Errorf("third utterance source index = %d, want 2", utts[2].SourceIndex)
	}
}

// TestNormalizeSingleSource verifies no transitions appear for one source.
func TestNormalizeSingleSource(t *testing.T) {
	n := NewNormalizer(transitionURL)
	utts, err := n.Normalize(sampleArticles()[:1], ModeStandard)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	for _, u := range utts {
		if u.IsTransition() {
			t.Errorf("unexpected transition %+v for single source", u)
		}
	}
}

// TestNormalizeNoSources verifies the sentinel for an empty list.
func TestNormalizeNoSources(t *testing.T) {
	n := NewNormalizer(transitionURL)
	if _, err := n.Normalize(nil, ModeStandard); !errors.Is(err, ErrNoSources) {
		t.Errorf("Normalize(nil) error = %v, want ErrNoSources", err)
	}
}

// TestSourceUtterances verifies the single-source path and the dialogue
// fallback policy.
func TestSourceUtterances(t *testing.T) {
	n := NewNormalizer(transitionURL)
	articles := sampleArticles()

	std := n.SourceUtterances(&articles[1], 1, ModeStandard)
	if len(std) != 1 || std[0].Text != "b1" {
		t.Errorf("standard utterances = %v, want single b1", std)
	}

	dlg := n.SourceUtterances(&articles[1], 1, ModeDialogue)
	if len(dlg) != 2 || dlg[0].SpeakerLabel != "Alex" {
		t.Errorf("dialogue utterances = %v, want Alex/Sam lines", dlg)
	}

	// No conversation track: dialogue falls back to narration.
	fb := n.SourceUtterances(&articles[0], 0, ModeDialogue)
	if len(fb) != 2 || fb[0].SpeakerLabel != "" {
		t.Errorf("fallback utterances = %v, want narration lines", fb)
	}
}

// TestTransitionUtterance verifies the driver-facing constructor.
func TestTransitionUtterance(t *testing.T) {
	n := NewNormalizer(transitionURL)
	u := n.TransitionUtterance("a", 3)
	if !u.IsTransition() {
		t.Fatalf("utterance %+v is not a transition", u)
	}
	if u.SourceID != "a" || u.SourceIndex != 3 || u.AudioURL != transitionURL {
		t.Errorf("transition = %+v, want a/3 with clip URL", u)
	}
}
