package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "seq:"

// DecodeTaskCursor returns the insertion sequence a listing continues after.
// An empty cursor starts from the beginning.
func DecodeTaskCursor(cursorStr string) (int64, error) {
	if cursorStr == "" {
		return 0, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	s := string(decoded)
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, fmt.Errorf("invalid cursor format")
	}

	seq, err := strconv.ParseInt(strings.TrimPrefix(s, cursorPrefix), 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid sequence in cursor")
	}

	return seq, nil
}

// EncodeTaskCursor encodes the sequence of the last task on a page
func EncodeTaskCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}
