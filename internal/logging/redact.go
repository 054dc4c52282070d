package logging

import (
	"strconv"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"go.uber.org/zap"
)

// Secret creates a Zap field for config.Secret that only reveals whether it is set.
func Secret(key string, val config.Secret) zap.Field {
	if !val.IsSet() {
		return zap.String(key, "")
	}
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}
