package content

import (
	"errors"

	"github.com/charmbracelet/log"
)

// ErrNoSources is returned when normalization is requested for an empty
// source list.
var ErrNoSources = errors.New("no sources to normalize")

// Normalizer converts article lists into flat utterance sequences,
// interleaving a fixed transition clip between sources.
type Normalizer struct {
	transitionURL string
}

// NewNormalizer creates a normalizer using the given transition clip URL.
func NewNormalizer(transitionURL string) *Normalizer {
	return &Normalizer{transitionURL: transitionURL}
}

// Normalize flattens the articles into an ordered utterance list for the
// requested mode. A transition utterance is inserted between every pair of
// consecutive sources that contributed content; transitions never open or
// close the list and never appear twice in a row.
//
// In dialogue mode a source without conversation data falls back to its
// standard narration track. This fallback is the single policy for the whole
// engine; explicit mode toggles are still rejected for such sources by the
// playback driver.
func (n *Normalizer) Normalize(articles []Article, mode SourceMode) ([]Utterance, error) {
	if len(articles) == 0 {
		return nil, ErrNoSources
	}

	var out []Utterance
	prev := -1 // index of the last source that contributed utterances

	for i := range articles {
		a := &articles[i]
		utts := n.sourceUtterances(a, i, mode)
		if len(utts) == 0 {
			log.Debug("source has no utterances, skipping", "source", a.ID, "mode", mode)
			continue
		}
		if prev >= 0 {
			// The transition belongs to the source it follows.
			out = append(out, Utterance{
				AudioURL:      n.transitionURL,
				SourceID:      articles[prev].ID,
				SourceIndex:   prev,
				SequenceIndex: TransitionIndex,
			})
		}
		out = append(out, utts...)
		prev = i
	}

	return out, nil
}

// TransitionUtterance returns the transition clip utterance attributed to
// the given source. Used by the playback driver to synthesize the
// transition-only micro-queue between per-source queues.
func (n *Normalizer) TransitionUtterance(sourceID string, sourceIndex int) Utterance {
	return Utterance{
		AudioURL:      n.transitionURL,
		SourceID:      sourceID,
		SourceIndex:   sourceIndex,
		SequenceIndex: TransitionIndex,
	}
}

// SourceUtterances returns the utterances for a single source under the
// given mode, applying the dialogue fallback policy. Used by the playback
// driver when rebuilding the current source only.
func (n *Normalizer) SourceUtterances(a *Article, sourceIndex int, mode SourceMode) []Utterance {
	return n.sourceUtterances(a, sourceIndex, mode)
}

func (n *Normalizer) sourceUtterances(a *Article, sourceIndex int, mode SourceMode) []Utterance {
	if mode == ModeDialogue && a.HasDialogue() {
		utts := make([]Utterance, 0, len(a.Conversation))
		for j, line := range a.Conversation {
			utts = append(utts, Utterance{
				Text:          line.Text,
				AudioURL:      line.AudioURL,
				SpeakerLabel:  line.Speaker,
				SourceID:      a.ID,
				SourceIndex:   sourceIndex,
				SequenceIndex: j,
			})
		}
		return utts
	}

	utts := make([]Utterance, 0, len(a.Speech))
	for j, line := range a.Speech {
		utts = append(utts, Utterance{
			Text:          line.Text,
			AudioURL:      line.AudioURL,
			SourceID:      a.ID,
			SourceIndex:   sourceIndex,
			SequenceIndex: j,
		})
	}
	return utts
}
