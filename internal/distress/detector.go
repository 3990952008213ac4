// Package distress classifies speech transcripts as indicating danger.
//
// Matching is deliberately naive substring containment over a configured
// keyword set: "helper" matches "help". Over-matching is an accepted
// trade-off favoring recall, since a missed distress call costs far more
// than a false escalation.
package distress

import "strings"

// Match is the result of scanning one transcript.
type Match struct {
	IsDistress   bool
	MatchedTerms []string
}

// Detector scans transcripts for distress keywords. It is pure and safe for
// concurrent use.
type Detector struct {
	keywords []string
}

// NewDetector builds a detector over the given keyword set. Keywords are
// lower-cased and deduplicated; order is preserved.
func NewDetector(keywords []string) *Detector {
	seen := make(map[string]struct{}, len(keywords))
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		normalized = append(normalized, kw)
	}
	return &Detector{keywords: normalized}
}

// Keywords returns the active keyword set.
func (d *Detector) Keywords() []string {
	cp := make([]string, len(d.keywords))
	copy(cp, d.keywords)
	return cp
}

// Scan checks a transcript for distress keywords and returns every term that
// appears. The transcript is lower-cased before matching.
func (d *Detector) Scan(transcript string) Match {
	text := strings.ToLower(transcript)
	match := Match{}
	for _, kw := range d.keywords {
		if strings.Contains(text, kw) {
			match.MatchedTerms = append(match.MatchedTerms, kw)
		}
	}
	match.IsDistress = len(match.MatchedTerms) > 0
	return match
}
