package logging

import (
	"strconv"

	"github.com/fyrsmithlabs/docindex/internal/config"
	"go.uber.org/zap"
)

// Secret returns a field that logs only whether the secret is set and its length.
func Secret(key string, val config.Secret) zap.Field {
	if !val.IsSet() {
		return zap.String(key, "")
	}
	return RedactedString(key, val.Value())
}

// RedactedString returns a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}
