package app

import (
	"net/url"
	"strings"
)

// describeDSN summarises dsn for logs without credentials.
func describeDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return ""
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") {
		pathPart := trimmed[len("file:"):]
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return "sqlite:" + strings.TrimSpace(pathPart)
	}
	if !strings.Contains(trimmed, "://") {
		if strings.Contains(lowered, "host=") || strings.Contains(lowered, "dbname=") {
			return "postgres"
		}
		return "sqlite:" + trimmed
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return "unparsable dsn"
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		host := strings.TrimSpace(u.Host)
		name := strings.TrimPrefix(u.Path, "/")
		return "postgres://" + host + "/" + strings.TrimSpace(name)
	default:
		return u.Scheme
	}
}
