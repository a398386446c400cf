package catalog

import (
	"math"
	"strings"
)

// Rule validators reject regex hits that are structurally wrong.
var validators = map[string]func(string) bool{
	"luhn":    luhnValid,
	"entropy": highEntropy,
}

func luhnValid(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// highEntropyThreshold is in bits per character (English ~3.5, random ~5).
const highEntropyThreshold = 4.0

// highEntropy accepts tokens that mix character classes and look random.
func highEntropy(s string) bool {
	if len(s) < 32 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !(digit && (lower || upper)) {
		return false
	}
	// Identifiers such as long_snake_case_names are not secrets.
	if strings.Count(s, "_")+strings.Count(s, "-") > len(s)/6 {
		return false
	}
	return shannonEntropy(s) >= highEntropyThreshold
}

func shannonEntropy(s string) float64 {
	freq := make(map[rune]float64)
	total := 0.0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := count / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
