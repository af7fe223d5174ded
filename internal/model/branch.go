package model

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// CompareBranchCodes orders codes by alphabetic prefix, then by numeric
// suffix, so SA2 sorts before SA10. Codes without a numeric suffix sort
// before numbered codes sharing the same prefix.
func CompareBranchCodes(a, b string) int {
	pa, na, okA := splitBranchCode(a)
	pb, nb, okB := splitBranchCode(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	switch {
	case okA && okB && na != nb:
		if na < nb {
			return -1
		}
		return 1
	case okA != okB:
		if !okA {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// SortBranchCodes sorts codes in place with CompareBranchCodes.
func SortBranchCodes(codes []string) {
	sort.SliceStable(codes, func(i, j int) bool {
		return CompareBranchCodes(codes[i], codes[j]) < 0
	})
}

func splitBranchCode(code string) (prefix string, num int, ok bool) {
	i := len(code)
	for i > 0 && unicode.IsDigit(rune(code[i-1])) {
		i--
	}
	if i == len(code) {
		return code, 0, false
	}
	n, err := strconv.Atoi(code[i:])
	if err != nil {
		return code, 0, false
	}
	return code[:i], n, true
}
