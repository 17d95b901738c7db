// Package voice picks the synthesis voice that best matches the announcement
// language and keeps that choice current as the voice catalogue changes.
package voice

import (
	"strings"

	"github.com/MrWong99/callout/pkg/provider/tts"
)

// Score weights. Matches are additive: a voice tagged "ur-PK" also contains
// the family tag "ur" and collects both.
const (
	weightRegionTag    = 1000
	weightAltRegionTag = 800
	weightFamilyTag    = 600
	weightGender       = 500
	weightRegionName   = 600
	weightLanguageName = 400
	weightLocal        = 200
	weightDefault      = 300
)

// Target describes the voice a deployment wants. All matching is done on
// lowercase substrings.
type Target struct {
	// RegionTag is the full locale tag, e.g. "ur-pk".
	RegionTag string
	// AltRegionTag is a secondary regional tag, e.g. "ur_in".
	AltRegionTag string
	// FamilyTag is the bare language subtag, e.g. "ur".
	FamilyTag string
	// Gender is looked for in the voice name, e.g. "female".
	Gender string
	// RegionName is looked for in the voice name, e.g. "pakistan".
	RegionName string
	// LanguageName is looked for in the voice name, e.g. "urdu".
	LanguageName string
}

var languageNames = map[string]struct{ name, region, alt string }{
	"ur": {"urdu", "pakistan", "ur_in"},
	"en": {"english", "", ""},
	"ar": {"arabic", "", ""},
	"hi": {"hindi", "india", ""},
	"pa": {"punjabi", "pakistan", ""},
}

// TargetFor builds the target for a BCP-47 locale such as "ur-PK".
func TargetFor(locale string) Target {
	tag := strings.ToLower(strings.ReplaceAll(locale, "_", "-"))
	family, _, _ := strings.Cut(tag, "-")
	t := Target{RegionTag: tag, FamilyTag: family, Gender: "female"}
	if n, ok := languageNames[family]; ok {
		t.LanguageName = n.name
		t.RegionName = n.region
		t.AltRegionTag = n.alt
	}
	return t
}

// Score rates how well v matches t. Higher is better; zero means no signal.
func Score(v tts.Voice, t Target) int {
	lang := strings.ToLower(v.Lang)
	name := strings.ToLower(v.Name)
	score := 0
	add := func(hay, needle string, w int) {
		if needle != "" && strings.Contains(hay, needle) {
			score += w
		}
	}
	add(lang, t.RegionTag, weightRegionTag)
	add(lang, t.AltRegionTag, weightAltRegionTag)
	add(lang, t.FamilyTag, weightFamilyTag)
	add(name, t.Gender, weightGender)
	add(name, t.RegionName, weightRegionName)
	add(name, t.LanguageName, weightLanguageName)
	if v.LocalService {
		score += weightLocal
	}
	if v.Default {
		score += weightDefault
	}
	return score
}

// Select returns the highest-scoring voice. Ties go to the voice listed
// first. If no voice scores above zero the first voice is returned; an empty
// catalogue yields false.
func Select(voices []tts.Voice, t Target) (tts.Voice, bool) {
	if len(voices) == 0 {
		return tts.Voice{}, false
	}
	best, bestScore := 0, 0
	for i, v := range voices {
		if s := Score(v, t); s > bestScore {
			best, bestScore = i, s
		}
	}
	return voices[best], true
}
