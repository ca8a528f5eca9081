// Package masking partially obscures sensitive values before they reach log
// output. Masked values keep their length and every other character, enough
// to recognize which secret is in play without disclosing it.
package masking

// Mask replaces every second character of value with '*'.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	runes := []rune(value)
	for i := 1; i < len(runes); i += 2 {
		runes[i] = '*'
	}
	return string(runes)
}
