package channel

import (
	"encoding/json"

	"github.com/dkeye/peercall/internal/core"
)

const noticeError = "error"

// notice is a relay control frame such as room_state, pong or error.
type notice struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// parseNotice reports whether data is a relay control frame rather than a
// call envelope.
func parseNotice(data []byte) (notice, bool) {
	var n notice
	if err := json.Unmarshal(data, &n); err != nil {
		return notice{}, false
	}
	if n.Type == "" || core.IsEnvelopeType(n.Type) {
		return notice{}, false
	}
	return n, true
}
