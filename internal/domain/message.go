package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the human-readable speaker label used in transcripts.
func (r Role) Label() string {
	if r == RoleAssistant {
		return "AI"
	}
	return "User"
}

// ScoredFeedback is a 0-100 score with the issues behind it.
type ScoredFeedback struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
}

// TaggedToken is one word of the learner's message and its part of speech.
type TaggedToken struct {
	Token string `json:"token"`
	Tag   string `json:"tag"`
}

// LanguageFeedback describes word usage and the detected emotion.
type LanguageFeedback struct {
	PartOfSpeech []TaggedToken `json:"part_of_speech"`
	Emotion      string        `json:"emotion"`
}

// Feedback is attached to assistant messages. Every part is optional.
type Feedback struct {
	Grammar       *ScoredFeedback   `json:"grammar,omitempty"`
	Pronunciation *ScoredFeedback   `json:"pronunciation,omitempty"`
	Language      *LanguageFeedback `json:"language,omitempty"`
}

// Scored reports whether the feedback carries a grammar or pronunciation score.
func (f *Feedback) Scored() bool {
	return f != nil && (f.Grammar != nil || f.Pronunciation != nil)
}

// Message is one entry in a conversation log.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Feedback  *Feedback `json:"feedback,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
}
