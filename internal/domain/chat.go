package domain

// SystemUserID marks chat lines synthesized by the coordinator or the
// client itself (join/leave notices), as opposed to user-authored messages.
const SystemUserID UserID = ""

// ChatMessage is append-only and ordered by arrival at the coordinator.
// TimestampMs is stamped by the coordinator at receipt, never by the sender.
type ChatMessage struct {
	UserID      UserID `json:"userId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestampMs"`
}

func (m ChatMessage) IsSystem() bool { return m.UserID == SystemUserID }
