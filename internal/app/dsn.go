package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// dsnSummary describes a database target without its credentials.
type dsnSummary struct {
	Type        string
	Host        string
	Port        int
	User        string
	Name        string
	SSLMode     string
	Path        string
	PasswordSet bool
}

func (s dsnSummary) fields() log.Fields {
	if s.Type == "sqlite" {
		return log.Fields{"database": s.Type, "path": s.Path}
	}
	return log.Fields{
		"database":     s.Type,
		"host":         s.Host,
		"port":         s.Port,
		"user":         s.User,
		"name":         s.Name,
		"sslmode":      s.SSLMode,
		"password_set": s.PasswordSet,
	}
}

func describeDSN(dsn string) (dsnSummary, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return dsnSummary{}, fmt.Errorf("empty dsn")
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") {
		pathPart, _, _ := strings.Cut(trimmed[len("file:"):], "?")
		return dsnSummary{Type: "sqlite", Path: strings.TrimSpace(pathPart)}, nil
	}
	if !strings.Contains(lowered, "://") {
		if strings.Contains(lowered, "host=") {
			return describeKeywordDSN(trimmed), nil
		}
		pathPart, _, _ := strings.Cut(trimmed, "?")
		return dsnSummary{Type: "sqlite", Path: strings.TrimSpace(pathPart)}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return dsnSummary{}, fmt.Errorf("parse dsn: %w", errParse)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return dsnSummary{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}
		summary := dsnSummary{
			Type:    "postgres",
			Host:    strings.TrimSpace(u.Hostname()),
			Port:    port,
			Name:    strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			SSLMode: strings.TrimSpace(u.Query().Get("sslmode")),
		}
		if u.User != nil {
			summary.User = strings.TrimSpace(u.User.Username())
			_, summary.PasswordSet = u.User.Password()
		}
		if summary.SSLMode == "" {
			summary.SSLMode = "disable"
		}
		return summary, nil
	default:
		return dsnSummary{}, fmt.Errorf("unsupported dsn scheme")
	}
}

// describeKeywordDSN handles the "host=... dbname=..." form.
func describeKeywordDSN(dsn string) dsnSummary {
	summary := dsnSummary{Type: "postgres", Port: 5432, SSLMode: "disable"}
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `'"`)
		switch strings.ToLower(key) {
		case "host":
			summary.Host = value
		case "port":
			if parsed, errPort := strconv.Atoi(value); errPort == nil {
				summary.Port = parsed
			}
		case "user":
			summary.User = value
		case "dbname":
			summary.Name = value
		case "sslmode":
			summary.SSLMode = value
		case "password":
			summary.PasswordSet = value != ""
		}
	}
	return summary
}
