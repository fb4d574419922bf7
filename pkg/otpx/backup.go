package otpx

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	BackupCodeLength       = 8
	DefaultBackupCodeCount = 10

	backupCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var backupPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// GenerateBackupCodes returns count random 8 character uppercase
// alphanumeric codes.
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}

	limit := big.NewInt(int64(len(backupCharset)))
	codes := make([]string, 0, count)
	for range count {
		buf := make([]byte, BackupCodeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return nil, fmt.Errorf("otpx: generate backup code: %w", err)
			}
			buf[i] = backupCharset[n.Int64()]
		}
		codes = append(codes, string(buf))
	}
	return codes, nil
}

// IsValidBackupCodeFormat reports whether code is 8 alphanumerics, in
// either case.
func IsValidBackupCodeFormat(code string) bool {
	return backupPattern.MatchString(code)
}

// VerifyBackupCode reports whether code matches any entry in codes,
// ignoring case.
func VerifyBackupCode(code string, codes []string) bool {
	want := normalizeBackupCode(code)
	if want == "" {
		return false
	}
	found := 0
	for _, c := range codes {
		found |= subtle.ConstantTimeCompare([]byte(want), []byte(normalizeBackupCode(c)))
	}
	return found == 1
}

// ConsumeBackupCode returns a copy of codes with every entry matching code
// removed. The input slice is left untouched.
func ConsumeBackupCode(code string, codes []string) []string {
	want := normalizeBackupCode(code)
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if normalizeBackupCode(c) == want {
			continue
		}
		out = append(out, c)
	}
	return out
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
