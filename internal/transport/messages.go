package transport

// Inbound message types
const (
	TypeJoinSession = "join_session"
	TypeAudioChunk  = "audio_chunk"
	TypeEndOfStream = "end_of_stream"
)

// inboundMessage is the envelope for every client frame
type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64-encoded chunk payload
	Mime      string `json:"mime,omitempty"`
	ClientTS  int64  `json:"client_ts,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
}

// sessionJoined confirms a join, telling a reconnecting client where the
// transcript left off
type sessionJoined struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Restored  bool   `json:"restored"`
	Sequence  uint64 `json:"sequence"`
}
