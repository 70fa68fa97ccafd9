package models

// Frame is the payload of one record on the chat event stream. A stream is a
// finite sequence of frames written as `data: <json>` records and terminated
// by exactly one DoneSentinel record.
//
// Delta carries an incremental fragment of assistant text, to be appended
// verbatim to whatever the client has accumulated so far. Error marks a frame
// that tells the client to stop accumulating and show a fallback message.
type Frame struct {
	Delta string `json:"delta,omitempty"`
	Error bool   `json:"error,omitempty"`
}

// DoneSentinel is the literal payload of the terminal stream record. It is
// not JSON on purpose; it mirrors the sentinel used by OpenAI-style
// completion streams so that off-the-shelf SSE consumers recognise it.
const DoneSentinel = "[DONE]"
