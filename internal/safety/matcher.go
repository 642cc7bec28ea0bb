package safety

import (
	"sort"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Match is the first rule hit for a text.
type Match struct {
	Label  string
	Phrase string
}

// matcher finds the lowest-index rule with a whole-word phrase hit using a
// single Aho-Corasick pass over the normalized text.
type matcher struct {
	machine *goahocorasick.Machine
	owner   map[string]int
	rules   []Rule
}

func newMatcher(rules []Rule) (*matcher, error) {
	m := &matcher{owner: make(map[string]int), rules: rules}

	for i, rule := range rules {
		for _, phrase := range rule.Phrases {
			key := string(normalize([]rune(phrase)))
			if key == "" {
				continue
			}
			if _, seen := m.owner[key]; !seen {
				m.owner[key] = i
			}
		}
	}
	if len(m.owner) == 0 {
		return m, nil
	}

	keys := make([]string, 0, len(m.owner))
	for k := range m.owner {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	patterns := make([][]rune, len(keys))
	for i, k := range keys {
		patterns[i] = []rune(k)
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

func (m *matcher) first(text string) (Match, bool) {
	if m.machine == nil || text == "" {
		return Match{}, false
	}

	runes := normalize([]rune(text))
	best := -1
	var phrase string
	for _, term := range m.machine.MultiPatternSearch(runes, false) {
		start, end := term.Pos, term.Pos+len(term.Word)
		if !isBoundary(runes, start) || !isBoundary(runes, end) {
			continue
		}
		word := string(term.Word)
		idx := m.owner[word]
		if best == -1 || idx < best {
			best, phrase = idx, word
		}
		if best == 0 {
			break
		}
	}
	if best == -1 {
		return Match{}, false
	}
	return Match{Label: m.rules[best].Label, Phrase: phrase}, true
}

// normalize lower-cases runes and folds typographic apostrophes to ASCII.
// It preserves length so match offsets index the same slice.
func normalize(in []rune) []rune {
	out := make([]rune, len(in))
	for i, r := range in {
		switch r {
		case '‘', '’', 'ʼ':
			r = '\''
		}
		out[i] = unicode.ToLower(r)
	}
	return out
}

// isBoundary mirrors regex \b: word-ness differs on the two sides of i.
func isBoundary(runes []rune, i int) bool {
	before := i > 0 && isWordRune(runes[i-1])
	after := i < len(runes) && isWordRune(runes[i])
	return before != after
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
