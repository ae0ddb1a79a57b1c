// Package format renders token counts and sizes for people.
package format

import (
	"strconv"
	"strings"
)

type unit struct {
	size   float64
	suffix string
}

var (
	numberUnits = []unit{{1e12, "T"}, {1e9, "B"}, {1e6, "M"}, {1e3, "K"}}
	byteUnits   = []unit{{1e12, " TB"}, {1e9, " GB"}, {1e6, " MB"}, {1e3, " KB"}}
)

// HumanNumber abbreviates n to three significant digits, e.g. 50257 is
// "50.3K".
func HumanNumber(n uint64) string {
	for _, u := range numberUnits {
		if float64(n) >= u.size {
			return significant(float64(n)/u.size) + u.suffix
		}
	}

	return strconv.FormatUint(n, 10)
}

func significant(f float64) string {
	var s string
	switch {
	case f >= 100:
		return strconv.FormatFloat(f, 'f', 0, 64)
	case f >= 10:
		s = strconv.FormatFloat(f, 'f', 1, 64)
	default:
		s = strconv.FormatFloat(f, 'f', 2, 64)
	}

	return strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
}

// HumanBytes formats b in decimal units with one decimal place.
func HumanBytes(b int64) string {
	for _, u := range byteUnits {
		if float64(b) >= u.size {
			return strconv.FormatFloat(float64(b)/u.size, 'f', 1, 64) + u.suffix
		}
	}

	return strconv.FormatInt(b, 10) + " B"
}
