package models

import (
	"fmt"
	"strings"
)

func isASCIIDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isASCIIAlphanumeric(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || isASCIIDigit(ch)
}

// needsEscaping reports whether a string id must be wrapped in ⟨⟩: it contains
// anything other than ASCII letters, digits and underscores, or it would
// otherwise read back as a number.
func needsEscaping(s string) bool {
	if s == "" {
		return true
	}
	onlyDigits := true
	for _, ch := range s {
		if !isASCIIAlphanumeric(ch) && ch != '_' {
			return true
		}
		if !isASCIIDigit(ch) && ch != '_' {
			onlyDigits = false
		}
	}
	return onlyDigits
}

func escapeString(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if ch == '⟩' || ch == '\\' {
			b.WriteRune('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func unescapeString(s string) string {
	var b strings.Builder
	escaped := false
	for _, ch := range s {
		if !escaped && ch == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(ch)
	}
	return b.String()
}

// String renders the record id as "table:id". String ids that are not plain
// identifiers are wrapped in ⟨⟩ so ParseRecordID can read them back.
func (r RecordID) String() string {
	if s, ok := r.ID.(string); ok {
		if needsEscaping(s) {
			return fmt.Sprintf("%s:⟨%s⟩", r.Table, escapeString(s))
		}
		return r.Table + ":" + s
	}
	return fmt.Sprintf("%s:%v", r.Table, r.ID)
}
