package turn

// State is the per-session turn position. A session runs at most one turn
// at a time; every turn, successful or not, ends back at StateIdle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingTranscription
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTranscription:
		return "awaiting_transcription"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
