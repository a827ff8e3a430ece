package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mood is the companion's displayed affective state. It selects the
// avatar a shell renders.
type Mood string

const (
	MoodContent      Mood = "content"
	MoodNeutral      Mood = "neutral"
	MoodDeliberating Mood = "deliberating"
	MoodDistressed   Mood = "distressed"
	MoodElated       Mood = "elated"
)

// InitialMood is the mood of a fresh session.
const InitialMood = MoodContent

var avatars = map[Mood]string{
	MoodContent:      "happy",
	MoodNeutral:      "neutral",
	MoodDeliberating: "thinking",
	MoodDistressed:   "sad",
	MoodElated:       "excited",
}

// Avatar returns the avatar name shells use to pick artwork.
func (m Mood) Avatar() string {
	if a, ok := avatars[m]; ok {
		return a
	}
	return avatars[InitialMood]
}

// Valid reports whether m is one of the known moods.
func (m Mood) Valid() bool {
	_, ok := avatars[m]
	return ok
}

// ParseMood accepts either the mood name or its avatar name.
func ParseMood(s string) (Mood, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m := Mood(s); m.Valid() {
		return m, nil
	}
	for m, a := range avatars {
		if a == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mood %q", s)
}

// UnmarshalYAML rejects names ParseMood does not know.
func (m *Mood) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseMood(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *Mood) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMood(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
