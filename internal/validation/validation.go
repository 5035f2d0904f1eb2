// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/url"
	"strings"
	"unicode"
)

const (
	minCodeLen = 3
	maxCodeLen = 64

	generatedCodeLen = 12
	maxSettingKeyLen = 64
)

// NormalizeRewardCode приводит код награды к верхнему регистру и проверяет,
// что он состоит из латинских букв, цифр, '-' и '_'.
func NormalizeRewardCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return "", false
		}
	}

	return code, true
}

// CodeFromUUID строит короткий код награды из строкового UUID.
func CodeFromUUID(id string) string {
	code := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(code) > generatedCodeLen {
		code = code[:generatedCodeLen]
	}
	return code
}

// IsValidSettingKey проверяет ключ системной настройки: строчные буквы, цифры, '_' и '.'.
func IsValidSettingKey(key string) bool {
	if key == "" || len(key) > maxSettingKeyLen {
		return false
	}

	for _, ch := range key {
		if !unicode.IsLower(ch) && !unicode.IsDigit(ch) && ch != '_' && ch != '.' {
			return false
		}
	}

	return true
}

// IsValidURL проверяет абсолютный http(s) адрес, например ссылку на логотип.
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
