package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aexy-app/aexy/internal/domain"
)

var errNoJSON = errors.New("model output contains no JSON object")

var (
	jsonBlockPattern     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

func systemPrompt(scenarioTitle string) string {
	return fmt.Sprintf(`You are an English tutor. Your current role is determined by the scenario title.
Your persona should match the scenario: %s.
For example, if the scenario is 'Restaurant Ordering', you are a waiter. If it's 'Job Interview Practice', you are an interviewer.
Analyze the student's message for grammar, pronunciation, parts of speech, and emotional tone.
Provide a score out of 100 for grammar and pronunciation, along with any issues.
For language analysis, identify the part of speech for each word and the overall emotion of the message.
Then, respond naturally in your assigned role and ask relevant follow-up questions.
Aim to conclude the conversation naturally after 3-4 turns. After a few exchanges, ask a concluding question to wrap up the practice session.

Reply with a single JSON object of this shape and nothing else:
{"aiResponse": string,
 "feedback": {"grammar": {"score": number, "issues": [string]},
              "pronunciation": {"score": number, "issues": [string]},
              "language": {"partOfSpeech": [{"token": string, "tag": string}], "emotion": string}}}`, scenarioTitle)
}

func userPrompt(req Request) string {
	return "Context: " + req.ConversationHistory + "\nStudent: " + req.UserMessage
}

type wireScore struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

type wireLanguage struct {
	PartOfSpeech []domain.TaggedToken `json:"partOfSpeech"`
	Emotion      string               `json:"emotion"`
}

type wireFeedback struct {
	Grammar       *wireScore    `json:"grammar"`
	Pronunciation *wireScore    `json:"pronunciation"`
	Language      *wireLanguage `json:"language"`
}

type wireReply struct {
	AIResponse string        `json:"aiResponse"`
	Feedback   *wireFeedback `json:"feedback"`
}

// parseReply decodes model output into a Reply. Scores are rounded and
// clamped to 0-100.
func parseReply(text string) (*Reply, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, errNoJSON
	}

	var w wireReply
	if err := decodeLenient(raw, &w); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	reply := &Reply{AIResponse: strings.TrimSpace(w.AIResponse)}
	if w.Feedback == nil {
		return reply, nil
	}

	fb := &domain.Feedback{
		Grammar:       convertScore(w.Feedback.Grammar),
		Pronunciation: convertScore(w.Feedback.Pronunciation),
	}
	if w.Feedback.Language != nil {
		fb.Language = &domain.LanguageFeedback{
			PartOfSpeech: w.Feedback.Language.PartOfSpeech,
			Emotion:      w.Feedback.Language.Emotion,
		}
	}
	if fb.Grammar != nil || fb.Pronunciation != nil || fb.Language != nil {
		reply.Feedback = fb
	}
	return reply, nil
}

func convertScore(s *wireScore) *domain.ScoredFeedback {
	if s == nil {
		return nil
	}
	score := int(math.Floor(s.Score + 0.5))
	score = max(0, min(100, score))
	issues := s.Issues
	if issues == nil {
		issues = []string{}
	}
	return &domain.ScoredFeedback{Score: score, Issues: issues}
}

func extractJSON(content string) string {
	var raw string
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else {
		raw = jsonObjectPattern.FindString(content)
	}
	return raw
}

// decodeLenient unmarshals raw as is and only strips trailing commas when
// that fails, so commas inside string values survive valid output.
func decodeLenient(raw string, v any) error {
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	repaired := trailingCommaPattern.ReplaceAllString(raw, "$1")
	if repaired == raw {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}
