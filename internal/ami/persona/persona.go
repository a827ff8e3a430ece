// Package persona loads the words Ami speaks: greeting, keyword buckets,
// canned replies, engagement prompts and notices.
//
// A persona is a YAML document checked against an embedded JSON Schema
// before it is decoded, so a typo in an override file fails at startup
// rather than mid-conversation.
package persona

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/thriveai/ami/internal/ami/conversation"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON string

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("persona: invalid document")

// MinEngagement is the smallest engagement pool accepted.
const MinEngagement = 4

// Bucket is one keyword class with its canned reply.
type Bucket struct {
	Name     string                `yaml:"name"`
	Keywords []string              `yaml:"keywords"`
	Reply    string                `yaml:"reply"`
	Mood     conversation.Mood     `yaml:"mood"`
	Effects  []conversation.Effect `yaml:"effects"`
}

// Fallback answers text that matches no bucket.
type Fallback struct {
	Reply string            `yaml:"reply"`
	Mood  conversation.Mood `yaml:"mood"`
}

// Voice configures the simulated voice capture.
type Voice struct {
	// Transcript fills the input buffer when capture stops. There is no
	// speech recognition behind it.
	Transcript  string              `yaml:"transcript"`
	Recording   conversation.Notice `yaml:"recording"`
	Transcribed conversation.Notice `yaml:"transcribed"`
}

// Persona is everything Ami says and how it reacts. Buckets are matched
// in order, so earlier buckets win when a message hits several of them.
// A Persona is read-only once loaded and is shared by all sessions.
type Persona struct {
	Name        string   `yaml:"name"`
	Greeting    string   `yaml:"greeting"`
	Style       string   `yaml:"style"`
	Suggestions []string `yaml:"suggestions"`
	// Buckets are tried in order; the first with a matching keyword wins.
	Buckets     []Bucket             `yaml:"buckets"`
	Fallback    Fallback             `yaml:"fallback"`
	Engagement  []string             `yaml:"engagement"`
	Voice       Voice                `yaml:"voice"`
	Breathing   conversation.Notice  `yaml:"breathing"`
	Failure     conversation.Notice  `yaml:"failure"`
	RateLimited *conversation.Notice `yaml:"rate_limited"`
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("persona.schema.json", schemaJSON)
})

// Default returns the built-in persona.
func Default() (*Persona, error) {
	return Parse(defaultYAML)
}

// Load reads and validates a persona file.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse validates data against the schema, decodes it and runs the checks
// the schema cannot express.
func Parse(data []byte) (*Persona, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func validateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile persona schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	// Round-trip through JSON so the validator sees float64 numbers and
	// string-keyed maps.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks invariants the schema cannot express.
func (p *Persona) Validate() error {
	if len(p.Engagement) < MinEngagement {
		return fmt.Errorf("%w: engagement pool has %d messages, need at least %d", ErrInvalid, len(p.Engagement), MinEngagement)
	}
	seen := make(map[string]bool, len(p.Buckets))
	for _, b := range p.Buckets {
		if seen[b.Name] {
			return fmt.Errorf("%w: duplicate bucket %q", ErrInvalid, b.Name)
		}
		seen[b.Name] = true
		for _, kw := range b.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("%w: bucket %q has a blank keyword", ErrInvalid, b.Name)
			}
		}
		for _, e := range b.Effects {
			if e.Delay < 0 {
				return fmt.Errorf("%w: bucket %q has a negative effect delay", ErrInvalid, b.Name)
			}
		}
	}
	return nil
}

// RateLimitedNotice is shown when a user outpaces the remote generator.
func (p *Persona) RateLimitedNotice() conversation.Notice {
	if p.RateLimited != nil {
		return *p.RateLimited
	}
	return p.Failure
}

// ExpertAction returns the first navigation action offered by any bucket.
// A bare "navigate" request from a shell resolves its route through it.
func (p *Persona) ExpertAction() (conversation.Action, bool) {
	for _, b := range p.Buckets {
		for _, e := range b.Effects {
			if e.Notice != nil && e.Notice.Action != nil && e.Notice.Action.Kind == conversation.ActionNavigate {
				return *e.Notice.Action, true
			}
		}
	}
	return conversation.Action{}, false
}
