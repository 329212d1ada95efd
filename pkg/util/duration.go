// Package util provides common utility functions
package util

import (
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string. On top of time.ParseDuration it accepts a
// leading day count ("1d", "1d12h") and treats a bare number as seconds.
// ParseDuration 解析时间字符串，支持 'd' (天) 前缀，纯数字视为秒
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, err
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return days, nil
		}
	}

	// 如果是纯数字，默认为秒
	if _, err := strconv.Atoi(s); err == nil {
		s += "s"
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return days + d, nil
}
