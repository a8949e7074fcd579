package profile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UniqueName returns a display name for a new profile of classID. The base
// defaults to "New <classid> profile". When profiles named base or
// "base #n" already exist, the result carries the next free suffix; an
// unsuffixed match counts as #1. overwrite returns base unchanged.
func (s *Store) UniqueName(classID, base string, overwrite bool) string {
	if base == "" {
		base = fmt.Sprintf("New %s profile", strings.ToLower(classID))
	}
	if overwrite {
		return base
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		names = append(names, p.Name)
	}
	s.mu.RUnlock()

	return nextName(base, names)
}

func nextName(base string, existing []string) string {
	rx := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `(?:\s#(\d+))?$`)
	highest := 0
	for _, name := range existing {
		m := rx.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n := 1
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				n = v
			}
		}
		if n > highest {
			highest = n
		}
	}
	if highest == 0 {
		return base
	}
	return fmt.Sprintf("%s #%d", base, highest+1)
}
