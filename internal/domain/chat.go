package domain

// ChatMessage is one chat entry as stored and as broadcast.
// Timestamp is unix milliseconds, matching what clients render.
type ChatMessage struct {
	UserID    UserID `json:"userId"`
	Name      string `json:"name"`
	IsTeacher bool   `json:"isTeacher"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
