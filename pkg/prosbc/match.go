package prosbc

import (
	"strings"

	"github.com/agext/levenshtein"
)

// MatchTier records which rule of the name-matching ladder produced a match.
// Earlier tiers always mask later ones.
type MatchTier int

const (
	TierID MatchTier = iota + 1
	TierExact
	TierNormalized
	TierSubstring
	TierLevenshtein
)

func (t MatchTier) String() string {
	switch t {
	case TierID:
		return "id"
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierSubstring:
		return "substring"
	case TierLevenshtein:
		return "levenshtein"
	default:
		return "none"
	}
}

// Levenshtein acceptance bounds for tier (e).
const (
	maxEditDistance     = 3
	maxRelativeDistance = 0.20
)

// Match is the result of resolving a target file name against a listing.
// Distance/Relative are only populated when the levenshtein tier decided.
type Match struct {
	File     FileDescriptor `json:"file"`
	Tier     MatchTier      `json:"tier"`
	Distance int            `json:"distance,omitempty"`
	Relative float64        `json:"relative,omitempty"`
}

// NormalizeName lowercases, collapses whitespace runs and strips the
// zero-width characters (U+200B..U+200D, U+FEFF) that copy-pasted filenames
// pick up.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
}

// MatchFile resolves a target (file id or name) against a listing using the
// tiered ladder: exact id, exact name, normalized name, substring either way,
// bounded levenshtein. Returns nil when nothing qualifies.
func MatchFile(files []FileDescriptor, target string) *Match {
	if len(files) == 0 || target == "" {
		return nil
	}

	for i := range files {
		if files[i].ID == target {
			return &Match{File: files[i], Tier: TierID}
		}
	}
	for i := range files {
		if files[i].Name == target {
			return &Match{File: files[i], Tier: TierExact}
		}
	}

	normTarget := NormalizeName(target)
	for i := range files {
		if NormalizeName(files[i].Name) == normTarget {
			return &Match{File: files[i], Tier: TierNormalized}
		}
	}
	for i := range files {
		n := NormalizeName(files[i].Name)
		if n == "" {
			continue
		}
		if strings.Contains(n, normTarget) || strings.Contains(normTarget, n) {
			return &Match{File: files[i], Tier: TierSubstring}
		}
	}

	// Tier (e): closest candidate within the edit-distance bounds.
	best := -1
	bestDist := 0
	for i := range files {
		n := NormalizeName(files[i].Name)
		dist := levenshtein.Distance(n, normTarget, nil)
		longest := max(len(n), len(normTarget))
		if longest == 0 {
			continue
		}
		relative := float64(dist) / float64(longest)
		if dist > maxEditDistance && relative > maxRelativeDistance {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return nil
	}

	n := NormalizeName(files[best].Name)
	longest := max(len(n), len(normTarget))
	return &Match{
		File:     files[best],
		Tier:     TierLevenshtein,
		Distance: bestDist,
		Relative: float64(bestDist) / float64(longest),
	}
}
