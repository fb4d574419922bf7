package store

import (
	"encoding/json"
	"fmt"
)

// EncodeBackupCodes renders codes for a JSON column. An empty set is
// stored as NULL, reported here as ok == false.
func EncodeBackupCodes(codes []string) (encoded string, ok bool, err error) {
	if len(codes) == 0 {
		return "", false, nil
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", false, fmt.Errorf("encode backup codes: %w", err)
	}
	return string(b), true, nil
}

// DecodeBackupCodes is the inverse of EncodeBackupCodes.
func DecodeBackupCodes(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, fmt.Errorf("decode backup codes: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}
	return codes, nil
}
