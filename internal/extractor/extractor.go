// Package extractor pulls pickup details out of courier notification texts.
//
// Extraction is a pure function of the input: every field is matched by its own
// ordered rules, and a message yields a result as soon as any one field matches.
package extractor

import (
	"github.com/BearBump/PickupBox/internal/models"
)

type Extractor struct {
	rules []Rule
}

func New(rules []Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Default is an extractor over DefaultRules.
func Default() *Extractor {
	return New(DefaultRules())
}

func (e *Extractor) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Extract returns the fields found in text. ok is false when nothing matched,
// which includes empty text.
func (e *Extractor) Extract(text string) (fields models.ExtractedFields, ok bool) {
	if text == "" {
		return models.ExtractedFields{}, false
	}

	done := make(map[Field]struct{}, 3)
	for _, r := range e.rules {
		if _, seen := done[r.Field]; seen {
			continue
		}
		v, matched := r.Apply(text)
		if !matched {
			continue
		}
		done[r.Field] = struct{}{}
		switch r.Field {
		case FieldTrackingID:
			fields.TrackingID = v
		case FieldPickupCode:
			fields.PickupCode = v
		case FieldPickupLocation:
			fields.PickupLocation = v
		}
	}

	if fields.Empty() {
		return models.ExtractedFields{}, false
	}
	return fields, true
}

// Explain reports which rule produced each field. Used by the parse preview.
func (e *Extractor) Explain(text string) map[Field]string {
	out := make(map[Field]string, 3)
	if text == "" {
		return out
	}
	for _, r := range e.rules {
		if _, seen := out[r.Field]; seen {
			continue
		}
		if _, matched := r.Apply(text); matched {
			out[r.Field] = r.Name
		}
	}
	return out
}

var std = Default()

// Extract runs the default rule set.
func Extract(text string) (models.ExtractedFields, bool) {
	return std.Extract(text)
}
