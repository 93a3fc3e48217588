// Package invite генерирует и проверяет коды приглашения в закрытые учебные группы.
// Код служит удобством доступа, а не границей безопасности: любой, кто знает код, может вступить.
package invite

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// Length: длина кода.
	Length  = 6
	charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var charsetLen = big.NewInt(int64(len(charset)))

// Generate возвращает случайный код из A–Z0–9. Уникальность обеспечивает уникальный индекс хранилища.
func Generate() (string, error) {
	code := make([]byte, Length)
	for i := range code {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("invite.Generate: %w", err)
		}
		code[i] = charset[n.Int64()]
	}
	return string(code), nil
}

// Validate: точное сравнение с учётом регистра. Клиент сам переводит ввод в верхний регистр.
func Validate(stored, supplied string) bool {
	return stored != "" && stored == supplied
}

// WellFormed проверяет алфавит и длину.
func WellFormed(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
