package services

import "strings"

// Sanitize entfernt führende und abschließende Hochkommata sowie
// umschließenden Whitespace aus einem rohen CSV-Feldwert. Die beiden
// Trims laufen bis zum Fixpunkt, damit die Funktion idempotent ist
// (Eingaben wie " 'foo' " würden sonst zwei Durchläufe brauchen).
func Sanitize(s string) string {
	for {
		trimmed := strings.TrimSpace(strings.Trim(s, "'"))
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}
