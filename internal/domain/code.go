package domain

import (
	"strconv"
	"strings"
)

// RootCode returns the code of the root at the zero-based order.
func RootCode(order int) string {
	return strconv.Itoa(order + 1)
}

// ChildCode returns the code of the child at the zero-based order under parentCode.
func ChildCode(parentCode string, order int) string {
	if parentCode == "" {
		return RootCode(order)
	}
	return parentCode + "." + strconv.Itoa(order+1)
}

// ParseCode splits a dotted code into its positive integer segments.
func ParseCode(code string) ([]int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	parts := strings.Split(code, ".")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || part != strconv.Itoa(n) {
			return nil, ErrInvalidCode
		}
		out = append(out, n)
	}
	return out, nil
}

// ValidCode reports whether code is a well-formed dotted code.
func ValidCode(code string) bool {
	_, err := ParseCode(code)
	return err == nil
}

// CompareCodes orders codes segment by segment so "1.10" sorts after "1.9".
// Malformed codes sort after well-formed ones.
func CompareCodes(a, b string) int {
	pa, errA := ParseCode(a)
	pb, errB := ParseCode(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	default:
		return 0
	}
}
