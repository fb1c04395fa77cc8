package relevance

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Judgment states whether a retrieved item answers a query.
type Judgment int8

const (
	Unknown Judgment = iota
	Relevant
	Irrelevant
)

const (
	LabelRelevant   = "relevant"
	LabelIrrelevant = "irrelevant"
	LabelUnknown    = "unknown"
)

// Rails are the labels a classifier is allowed to answer with.
var Rails = []string{LabelRelevant, LabelIrrelevant}

func (j Judgment) String() string {
	switch j {
	case Relevant:
		return LabelRelevant
	case Irrelevant:
		return LabelIrrelevant
	default:
		return LabelUnknown
	}
}

// FromBool maps a boolean relevance flag to a judgment.
func FromBool(relevant bool) Judgment {
	if relevant {
		return Relevant
	}
	return Irrelevant
}

// FromLabel maps an external label to a judgment. Anything that is not one of
// the rails, including "NOT_PARSABLE" or an empty label, is Unknown.
func FromLabel(label string) Judgment {
	switch normalize(label) {
	case LabelRelevant:
		return Relevant
	case LabelIrrelevant:
		return Irrelevant
	default:
		return Unknown
	}
}

// Snap maps free-form classifier output onto the rails. The output is
// accepted when it is exactly one rail, or when the words of the output
// mention exactly one of them.
func Snap(output string) Judgment {
	if j := FromLabel(output); j != Unknown {
		return j
	}

	var sawRelevant, sawIrrelevant bool
	for _, word := range strings.FieldsFunc(strings.ToLower(output), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	}) {
		switch word {
		case LabelRelevant:
			sawRelevant = true
		case LabelIrrelevant:
			sawIrrelevant = true
		}
	}

	switch {
	case sawRelevant && !sawIrrelevant:
		return Relevant
	case sawIrrelevant && !sawRelevant:
		return Irrelevant
	default:
		return Unknown
	}
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}

// MarshalJSON encodes the judgment as its label.
func (j Judgment) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.String())
}

// UnmarshalJSON accepts a label string or a boolean; null decodes to Unknown.
func (j *Judgment) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case string:
		*j = FromLabel(t)
	case bool:
		*j = FromBool(t)
	default:
		*j = Unknown
	}
	return nil
}

// Labels renders a ranking as labels.
func Labels(r []Judgment) []string {
	labels := make([]string, len(r))
	for i, j := range r {
		labels[i] = j.String()
	}
	return labels
}

// ParseLabels maps a list of external labels to a ranking.
func ParseLabels(labels []string) []Judgment {
	r := make([]Judgment, len(labels))
	for i, l := range labels {
		r[i] = FromLabel(l)
	}
	return r
}
