package session

import "strings"

// UtteranceBuffer accumulates final transcripts during the quiet window and
// produces the single utterance a generation runs against.
//
// Two accumulation modes exist. [UtteranceBuffer.Extend] appends a transcript
// to the pending utterance while the speaker is still being debounced.
// [UtteranceBuffer.MergeRegret] handles the case where a generation already
// started and a new final transcript proves the speaker was not actually
// done: the pending utterance is rebuilt from the last committed text plus
// the new transcript, so the regenerated reply answers the full thought
// rather than the fragment.
//
// UtteranceBuffer is not safe for concurrent use. The session loop is its
// only caller.
type UtteranceBuffer struct {
	pending       string
	lastCommitted string
}

// collapse trims and collapses runs of whitespace so that stitched
// transcripts read as one sentence regardless of how the STT provider
// spaced them.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Extend appends a final transcript to the pending utterance. It reports
// whether the transcript contributed any text.
func (b *UtteranceBuffer) Extend(transcript string) bool {
	t := collapse(transcript)
	if t == "" {
		return false
	}
	if b.pending == "" {
		b.pending = t
	} else {
		b.pending += " " + t
	}
	return true
}

// MergeRegret rebuilds the pending utterance from the last committed text
// and the new transcript. The caller cancels the in-flight generation; the
// merged utterance replaces whatever that generation was answering. It
// reports whether the transcript contributed any text.
func (b *UtteranceBuffer) MergeRegret(transcript string) bool {
	t := collapse(transcript)
	if t == "" {
		return false
	}
	if b.lastCommitted == "" {
		b.pending = t
	} else {
		b.pending = b.lastCommitted + " " + t
	}
	return true
}

// Commit returns the pending utterance and marks it as the last committed
// text for future merges. The pending buffer is cleared.
func (b *UtteranceBuffer) Commit() string {
	u := b.pending
	b.lastCommitted = u
	b.pending = ""
	return u
}

// Clear discards the pending utterance and the merge baseline. Used on
// interrupt, where the discarded speech must not leak into later replies.
func (b *UtteranceBuffer) Clear() {
	b.pending = ""
	b.lastCommitted = ""
}

// Pending returns the accumulated utterance without committing it.
func (b *UtteranceBuffer) Pending() string {
	return b.pending
}

// LastCommitted returns the most recently committed utterance.
func (b *UtteranceBuffer) LastCommitted() string {
	return b.lastCommitted
}
