// Package responder classifies user text into keyword buckets and returns
// the canned reply for the bucket. It is deterministic and never fails.
package responder

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/persona"
)

// DefaultBucket names the fallback classification.
const DefaultBucket = "default"

// Reply is what the companion says back and what should happen next.
type Reply struct {
	Text    string
	Mood    conversation.Mood
	Effects []conversation.Effect
	// Bucket is the classification that produced the reply.
	Bucket string
}

type bucket struct {
	name     string
	keywords []string
	reply    Reply
}

// Responder is safe for concurrent use; it is never mutated after New.
type Responder struct {
	buckets  []bucket
	fallback Reply
}

// New folds every bucket keyword once so Classify only has to fold the
// user text.
func New(p *persona.Persona) *Responder {
	r := &Responder{
		fallback: Reply{Text: p.Fallback.Reply, Mood: p.Fallback.Mood, Bucket: DefaultBucket},
	}
	for _, b := range p.Buckets {
		kws := make([]string, 0, len(b.Keywords))
		for _, kw := range b.Keywords {
			if kw = fold(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		r.buckets = append(r.buckets, bucket{
			name:     b.Name,
			keywords: kws,
			reply: Reply{
				Text:    b.Reply,
				Mood:    b.Mood,
				Effects: b.Effects,
				Bucket:  b.Name,
			},
		})
	}
	return r
}

// fold lower-cases s in composed Unicode form so that keywords typed with
// combining diacritics still match.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Classify returns the name of the first bucket with a keyword contained
// in text, or DefaultBucket.
func (r *Responder) Classify(text string) string {
	return r.match(fold(text)).Bucket
}

func (r *Responder) match(folded string) Reply {
	for _, b := range r.buckets {
		for _, kw := range b.keywords {
			if strings.Contains(folded, kw) {
				return b.reply
			}
		}
	}
	return r.fallback
}

// Generate returns the reply for text. The Effects slice is a fresh copy.
func (r *Responder) Generate(text string) Reply {
	reply := r.match(fold(text))
	if len(reply.Effects) > 0 {
		reply.Effects = append([]conversation.Effect(nil), reply.Effects...)
	}
	return reply
}
