// Package safety screens relayed text for student danger signals and
// counselor misconduct. Classification is pure and never blocks delivery.
package safety

import (
	"fmt"

	"campusrelay/pkg/types"
)

// Verdict is the classification of one message.
type Verdict struct {
	Emergency      bool
	MisconductType string
	// Phrase is the matched phrase, empty when nothing matched.
	Phrase string
}

// Flagged reports whether the verdict marks counselor misconduct.
func (v Verdict) Flagged() bool { return v.MisconductType != KindNone }

// Classifier holds the two compiled rule families.
type Classifier struct {
	danger     *matcher
	misconduct *matcher
}

// NewClassifier compiles the given rule families. Either may be empty.
func NewClassifier(danger, misconduct []Rule) (*Classifier, error) {
	d, err := newMatcher(danger)
	if err != nil {
		return nil, fmt.Errorf("compile danger rules: %w", err)
	}
	m, err := newMatcher(misconduct)
	if err != nil {
		return nil, fmt.Errorf("compile misconduct rules: %w", err)
	}
	return &Classifier{danger: d, misconduct: m}, nil
}

// NewDefaultClassifier compiles the built-in rule families.
func NewDefaultClassifier() (*Classifier, error) {
	return NewClassifier(DefaultDangerRules(), DefaultMisconductRules())
}

// Danger reports whether text carries a danger or self-harm indicator.
func (c *Classifier) Danger(text string) bool {
	_, ok := c.danger.first(text)
	return ok
}

// DangerMatch returns the first danger rule that matched.
func (c *Classifier) DangerMatch(text string) (Match, bool) {
	return c.danger.first(text)
}

// Misconduct returns the misconduct kind for text, or KindNone.
func (c *Classifier) Misconduct(text string) string {
	m, _ := c.misconduct.first(text)
	return m.Label
}

// MisconductMatch returns the first misconduct rule that matched.
func (c *Classifier) MisconductMatch(text string) (Match, bool) {
	return c.misconduct.first(text)
}

// Classify screens text with the family that applies to the sender's role.
// Counselors are screened for misconduct, students for danger, and any
// other role gets an empty verdict.
func (c *Classifier) Classify(role types.Role, text string) Verdict {
	switch role {
	case types.RoleCounselor:
		if m, ok := c.misconduct.first(text); ok {
			return Verdict{MisconductType: m.Label, Phrase: m.Phrase}
		}
	case types.RoleStudent:
		if m, ok := c.danger.first(text); ok {
			return Verdict{Emergency: true, Phrase: m.Phrase}
		}
	}
	return Verdict{}
}
