package extract

import "unicode"

// minLanguageFraction is the share of characters a language needs before
// it can be reported as primary; below it the detector falls back to "en".
const minLanguageFraction = 0.3

// DetectLanguage scores text against the known script ranges and returns
// the primary language tag plus the full distribution. English is scored
// by ASCII letters. Deterministic and side-effect-free.
func DetectLanguage(text string) (string, map[string]float64) {
	distribution := make(map[string]float64, len(indicScripts)+1)
	if text == "" {
		return "en", distribution
	}

	counts := make(map[string]int, len(indicScripts)+1)
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r < 128 {
			if unicode.IsLetter(r) {
				counts["en"]++
			}
			continue
		}
		for lang, sr := range indicScripts {
			if r >= sr.lo && r <= sr.hi {
				counts[lang]++
				break
			}
		}
	}

	if total == 0 {
		return "en", distribution
	}

	primary := "en"
	best := 0.0
	for lang, n := range counts {
		frac := float64(n) / float64(total)
		distribution[lang] = frac
		if frac > best {
			best = frac
			primary = lang
		}
	}

	if best < minLanguageFraction {
		primary = "en"
	}
	return primary, distribution
}
