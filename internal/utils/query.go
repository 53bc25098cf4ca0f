// Package utils holds small helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// Clamp bounds v to [lo, hi]. When lo > hi the result is lo.
func Clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// QueryInt parses a query value, falling back to def when it is blank or not
// an integer, and clamps the result to [lo, hi].
//
//	utils.QueryInt("500", 20, 1, 100) // 100
//	utils.QueryInt("abc", 20, 1, 100) // 20
func QueryInt(s string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		n = def
	}
	return Clamp(n, lo, hi)
}

// TotalPages is the number of pages needed for total items; zero items
// still yield zero pages. size < 1 is treated as 1.
func TotalPages(total int64, size int) int {
	if size < 1 {
		size = 1
	}
	return int((total + int64(size) - 1) / int64(size))
}
