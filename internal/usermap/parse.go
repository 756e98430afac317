package usermap

import (
	"regexp"
	"strconv"
	"strings"
)

var userPathRe = regexp.MustCompile(`(?i)(?:^|/)user/(\d+)(?:/|$|\?|#)`)

// ParseBitrixUserID извлекает ID пользователя из числа или ссылки на профиль.
//
//	"42"                                             -> 42
//	"https://b24.example/company/personal/user/42/"  -> 42
//	"company/personal/user/42"                       -> 42
func ParseBitrixUserID(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		if id <= 0 {
			return 0, false
		}
		return id, true
	}

	m := userPathRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
