package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"server":   {"base_url", "environment"},
	"network":  {"request_timeout", "upload_timeout", "connect_timeout", "user_agent"},
	"upload":   {"max_file_size", "default_methods"},
	"polling":  {"interval", "timeout"},
	"download": {"dir", "parallel"},
	"logging":  {"log_level", "log_format", "log_file"},
}

// knownSections is sorted for deterministic suggestions.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	slices.Sort(sections)

	return sections
}()

// allKeys maps every known key to its section.
var allKeys = func() map[string]string {
	keys := map[string]string{}
	for section, names := range knownKeys {
		for _, k := range names {
			keys[k] = section
		}
	}

	return keys
}()

// allKeyNames is sorted for deterministic suggestions.
var allKeyNames = func() []string {
	names := make([]string, 0, len(allKeys))
	for k := range allKeys {
		names = append(names, k)
	}

	slices.Sort(names)

	return names
}()

// checkUnknownKeys turns every undecoded TOML key into an error, with a
// suggestion when a known key is close enough. An unknown table is reported
// once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := map[string]bool{}

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, known := knownKeys[section]; !known && md.Type(section) == "Hash" {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, suggest("unknown config section", section, knownSections))
			}

			continue
		}

		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		name := key[0]

		match := closestMatch(name, allKeyNames)
		switch {
		case match == name:
			return fmt.Errorf("config key %q must be set inside [%s]", name, allKeys[name])
		case match != "":
			return fmt.Errorf("unknown config key %q, did you mean %q in [%s]?", name, match, allKeys[match])
		default:
			return fmt.Errorf("unknown config key %q", name)
		}
	}

	section, field := key[0], key[len(key)-1]

	return suggest(fmt.Sprintf("unknown config key in [%s]", section), field, knownKeys[section])
}

func suggest(prefix, name string, candidates []string) error {
	if s := closestMatch(name, candidates); s != "" {
		return fmt.Errorf("%s %q, did you mean %q?", prefix, name, s)
	}

	return fmt.Errorf("%s %q", prefix, name)
}

// closestMatch finds the closest candidate by Levenshtein distance, or ""
// when none is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using two rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
