package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/aexy-app/aexy/internal/domain"
)

// MockGenerator is an offline Generator for development and tests. It scores
// messages with simple heuristics and walks a canned dialogue per scenario.
type MockGenerator struct{}

// NewMockGenerator creates a MockGenerator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

var mockFollowUps = []string{
	"That sounds great. Could you tell me a little more about that?",
	"Interesting! Why do you think so?",
	"Thanks for sharing. Is there anything else you would like to add?",
	"We are almost done. How do you feel this conversation went?",
}

const mockClosing = "Thank you, that was a great practice session. Feel free to end the conversation whenever you are ready."

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	turn := learnerTurns(req.ConversationHistory) - 1
	if turn < 0 {
		turn = 0
	}

	response := mockClosing
	if turn < len(mockFollowUps) {
		response = mockFollowUps[turn]
	}
	if turn == 0 && req.ScenarioTitle != "" {
		response = fmt.Sprintf("Let's keep going with %s. %s", req.ScenarioTitle, response)
	}

	return &Reply{
		AIResponse: response,
		Feedback:   analyze(req.UserMessage),
	}, nil
}

// learnerTurns counts the learner lines in a transcript.
func learnerTurns(history string) int {
	n := 0
	for _, line := range strings.Split(history, "\n") {
		if strings.HasPrefix(line, domain.RoleUser.Label()+": ") {
			n++
		}
	}
	return n
}

func analyze(msg string) *domain.Feedback {
	tokens := tokenize(msg)
	return &domain.Feedback{
		Grammar:       scoreGrammar(msg, tokens),
		Pronunciation: scorePronunciation(tokens),
		Language: &domain.LanguageFeedback{
			PartOfSpeech: tagTokens(tokens),
			Emotion:      detectEmotion(tokens),
		},
	}
}

func tokenize(msg string) []string {
	return strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func scoreGrammar(msg string, tokens []string) *domain.ScoredFeedback {
	score := 100
	issues := []string{}
	trimmed := strings.TrimSpace(msg)

	if trimmed == "" {
		return &domain.ScoredFeedback{Score: 0, Issues: []string{"Message is empty."}}
	}
	if r := []rune(trimmed)[0]; unicode.IsLetter(r) && !unicode.IsUpper(r) {
		score -= 10
		issues = append(issues, "Start the sentence with a capital letter.")
	}
	if !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
		score -= 10
		issues = append(issues, "End the sentence with punctuation.")
	}
	for _, tok := range tokens {
		if tok == "i" {
			score -= 10
			issues = append(issues, `The pronoun "I" is always capitalized.`)
			break
		}
	}
	for i := 1; i < len(tokens); i++ {
		if strings.EqualFold(tokens[i], tokens[i-1]) {
			score -= 10
			issues = append(issues, fmt.Sprintf("Repeated word %q.", tokens[i]))
			break
		}
	}
	if len(tokens) < 3 {
		score -= 20
		issues = append(issues, "Try answering in a complete sentence.")
	}
	return &domain.ScoredFeedback{Score: max(score, 0), Issues: issues}
}

func scorePronunciation(tokens []string) *domain.ScoredFeedback {
	score := 90
	issues := []string{}
	for _, tok := range tokens {
		if len(tok) >= 12 {
			score -= 5
			issues = append(issues, fmt.Sprintf("Practice the stress pattern of %q.", tok))
		}
		lower := strings.ToLower(tok)
		if strings.Contains(lower, "th") && len(issues) == 0 {
			issues = append(issues, `Place the tongue between the teeth for "th".`)
		}
	}
	return &domain.ScoredFeedback{Score: max(score, 0), Issues: issues}
}

var posLexicon = map[string]string{
	"i": "pronoun", "you": "pronoun", "he": "pronoun", "she": "pronoun", "we": "pronoun",
	"they": "pronoun", "it": "pronoun", "me": "pronoun", "my": "determiner", "your": "determiner",
	"a": "determiner", "an": "determiner", "the": "determiner", "this": "determiner", "that": "determiner",
	"is": "verb", "am": "verb", "are": "verb", "was": "verb", "were": "verb", "be": "verb",
	"have": "verb", "has": "verb", "do": "verb", "would": "verb", "like": "verb", "want": "verb",
	"and": "conjunction", "but": "conjunction", "or": "conjunction", "because": "conjunction",
	"in": "preposition", "on": "preposition", "at": "preposition", "to": "preposition", "for": "preposition",
	"with": "preposition", "of": "preposition", "from": "preposition",
	"very": "adverb", "really": "adverb", "not": "adverb", "please": "adverb",
	"good": "adjective", "great": "adjective", "bad": "adjective", "happy": "adjective", "new": "adjective",
}

func tagTokens(tokens []string) []domain.TaggedToken {
	tagged := make([]domain.TaggedToken, 0, len(tokens))
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		tag, ok := posLexicon[lower]
		switch {
		case ok:
		case strings.HasSuffix(lower, "ly"):
			tag = "adverb"
		case strings.HasSuffix(lower, "ing"), strings.HasSuffix(lower, "ed"):
			tag = "verb"
		case strings.HasSuffix(lower, "ful"), strings.HasSuffix(lower, "ous"), strings.HasSuffix(lower, "ive"):
			tag = "adjective"
		default:
			tag = "noun"
		}
		tagged = append(tagged, domain.TaggedToken{Token: tok, Tag: tag})
	}
	return tagged
}

var emotionWords = map[string]string{
	"happy": "happy", "great": "happy", "love": "happy", "excited": "excited", "glad": "happy",
	"sad": "sad", "sorry": "sad", "unfortunately": "sad",
	"angry": "frustrated", "annoyed": "frustrated", "hate": "frustrated",
	"nervous": "anxious", "worried": "anxious", "afraid": "anxious",
}

func detectEmotion(tokens []string) string {
	for _, tok := range tokens {
		if e, ok := emotionWords[strings.ToLower(tok)]; ok {
			return e
		}
	}
	return "neutral"
}
