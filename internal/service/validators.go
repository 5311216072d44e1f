package service

import (
	"math"
	"strconv"
	"strings"
)

// ParseVoiceMode 接受 bool、0/1 和 true/false/yes/no 字符串，空值视为 false
func ParseVoiceMode(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case float64:
		switch v {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case int:
		switch v {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "":
			return false, nil
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return false, validationError(CodeInvalidVoiceMode, "voiceMode must be a boolean value.", nil)
}

// ParseVoiceDuration 空值取默认值，小数向下取整，超出 [1, max] 报错
func ParseVoiceDuration(value interface{}, defaultSeconds, maxSeconds int) (int, error) {
	invalid := validationError(CodeInvalidVoiceDuration,
		"voiceDurationSeconds must be between 1 and "+strconv.Itoa(maxSeconds)+".", nil)

	var seconds float64
	switch v := value.(type) {
	case nil:
		return defaultSeconds, nil
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return defaultSeconds, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, invalid
		}
		seconds = parsed
	default:
		return 0, invalid
	}

	if math.IsNaN(seconds) || seconds < 1 || seconds >= float64(maxSeconds+1) {
		return 0, invalid
	}
	return int(math.Floor(seconds)), nil
}
