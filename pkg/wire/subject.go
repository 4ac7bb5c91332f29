package wire

import "strings"

// ValidSubject reports whether s is a usable subscription subject. Tokens
// are separated by dots, must be non-empty and may be the wildcards * or >;
// > is only allowed as the last token.
func ValidSubject(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	tokens := strings.Split(s, ".")
	for i, t := range tokens {
		if t == "" {
			return false
		}
		if t == ">" && i != len(tokens)-1 {
			return false
		}
	}
	return true
}

// ValidPublishSubject reports whether s is a usable publish subject.
// Wildcards are not allowed.
func ValidPublishSubject(s string) bool {
	if !ValidSubject(s) {
		return false
	}
	for _, t := range strings.Split(s, ".") {
		if t == "*" || t == ">" {
			return false
		}
	}
	return true
}

// ValidQueue reports whether q is a usable queue group name.
func ValidQueue(q string) bool {
	return q != "" && !strings.ContainsAny(q, " \t\r\n")
}

// MatchSubject reports whether a literal subject matches a subscription
// pattern that may contain wildcards.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
