package domain

// Difficulty is the level label of a scenario.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// ScenarioImage is optional presentation metadata for a scenario card.
type ScenarioImage struct {
	Src  string `json:"src" yaml:"src"`
	Hint string `json:"hint" yaml:"hint"`
}

// Scenario is an immutable catalog entry.
type Scenario struct {
	ID            int           `json:"id" yaml:"id"`
	Title         string        `json:"title" yaml:"title"`
	Difficulty    Difficulty    `json:"difficulty" yaml:"difficulty"`
	Duration      string        `json:"duration" yaml:"duration"`
	IsPremium     bool          `json:"is_premium" yaml:"premium"`
	InitialPrompt string        `json:"initial_prompt" yaml:"initial_prompt"`
	Image         ScenarioImage `json:"image" yaml:"image"`
}
