package client

import "encoding/base64"

// Outbound frame type discriminators. Every JSON frame sent to the browser
// carries one of these in its "type" field.
const (
	TypeTranscript       = "transcript"
	TypeAudio            = "audio"
	TypeResponseComplete = "response_complete"
	TypeError            = "error"
)

// TypeInterrupt is the inbound control frame a client sends to barge in on
// the agent.
const TypeInterrupt = "interrupt_signal"

// Transcript senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// FrameKind classifies an outbound frame for backpressure decisions. Kinds are
// ordered by how readily a frame may be discarded when the client cannot keep
// up: interims go first, then audio, then final transcripts. Control frames
// (response_complete, error) are never dropped.
type FrameKind int

const (
	KindInterimTranscript FrameKind = iota
	KindAudio
	KindFinalTranscript
	KindControl
)

// String returns a stable label for logs and metrics.
func (k FrameKind) String() string {
	switch k {
	case KindInterimTranscript:
		return "interim_transcript"
	case KindAudio:
		return "audio"
	case KindFinalTranscript:
		return "final_transcript"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Frame is a single outbound message queued for delivery to the browser.
// Payload is marshaled to JSON by the channel's writer.
type Frame struct {
	Kind    FrameKind
	Payload any
}

// TranscriptPayload is the wire shape of a transcript frame.
type TranscriptPayload struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
	Sender  string `json:"sender"`
}

// AudioPayload is the wire shape of an audio frame. Data is base64-encoded
// PCM (s16le, 24 kHz, mono).
type AudioPayload struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ResponseCompletePayload is the wire shape of a response_complete frame.
type ResponseCompletePayload struct {
	Type string `json:"type"`
}

// ErrorPayload is the wire shape of an error frame.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserTranscript builds a transcript frame for STT output relayed to the
// client. Interim transcripts are the first to be dropped under backpressure.
func UserTranscript(text string, isFinal bool) Frame {
	kind := KindInterimTranscript
	if isFinal {
		kind = KindFinalTranscript
	}
	return Frame{
		Kind: kind,
		Payload: TranscriptPayload{
			Type:    TypeTranscript,
			Text:    text,
			IsFinal: isFinal,
			Sender:  SenderUser,
		},
	}
}

// AITranscript builds a transcript frame for a chunk of agent speech. Agent
// transcripts are sent incrementally as the model streams, so they carry
// isFinal=false on the wire, but for backpressure purposes they rank with
// final transcripts: losing one breaks the visible reply.
func AITranscript(text string) Frame {
	return Frame{
		Kind: KindFinalTranscript,
		Payload: TranscriptPayload{
			Type:    TypeTranscript,
			Text:    text,
			IsFinal: false,
			Sender:  SenderAI,
		},
	}
}

// Audio builds an audio frame from raw PCM bytes.
func Audio(pcm []byte) Frame {
	return Frame{
		Kind: KindAudio,
		Payload: AudioPayload{
			Type: TypeAudio,
			Data: base64.StdEncoding.EncodeToString(pcm),
		},
	}
}

// ResponseComplete builds the frame that marks the natural end of an agent
// response.
func ResponseComplete() Frame {
	return Frame{
		Kind:    KindControl,
		Payload: ResponseCompletePayload{Type: TypeResponseComplete},
	}
}

// ErrorMessage builds an error frame carrying a client-facing message.
func ErrorMessage(msg string) Frame {
	return Frame{
		Kind:    KindControl,
		Payload: ErrorPayload{Type: TypeError, Message: msg},
	}
}
