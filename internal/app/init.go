package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned when init would overwrite an existing config file.
var ErrConfigExists = errors.New("config file already exists")

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "drawer.db"

// InitRequest contains parameters for writing a starter config file.
type InitRequest struct {
	ConfigPath    string
	DatabaseDSN   string
	Port          int
	AdminUsername string
	AdminPassword string
	EnableTOTP    bool
	Force         bool
}

// InitResult reports the generated secrets the operator must keep.
type InitResult struct {
	ConfigPath string
	APIToken   string
	TOTPURL    string
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// buildSQLiteDSN constructs a SQLite DSN with default parameters.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
	}, "&")
}

// validateInitRequest normalizes and validates init input data.
func validateInitRequest(req *InitRequest) error {
	req.ConfigPath = config.ResolveConfigPath(req.ConfigPath)
	req.AdminUsername = strings.TrimSpace(req.AdminUsername)
	if req.AdminUsername == "" {
		return fmt.Errorf("admin username is required")
	}
	if len(req.AdminPassword) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	if req.Port < 0 || req.Port > 65535 {
		return fmt.Errorf("invalid port: %d", req.Port)
	}
	if req.Port == 0 {
		req.Port = defaultPort
	}
	req.DatabaseDSN = strings.TrimSpace(req.DatabaseDSN)
	if req.DatabaseDSN == "" {
		req.DatabaseDSN = buildSQLiteDSN("")
	}
	if _, errDescribe := describeDSN(req.DatabaseDSN); errDescribe != nil {
		return fmt.Errorf("invalid database dsn: %w", errDescribe)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Port        int      `yaml:"port"`
	DatabaseDSN string   `yaml:"database-dsn"`
	LogLevel    string   `yaml:"log-level"`
	JWT         jwtCfg   `yaml:"jwt"`
	Admin       adminCfg `yaml:"admin"`
	API         apiCfg   `yaml:"api"`
}

type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type adminCfg struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password-hash"`
	TOTPSecret   string `yaml:"totp-secret,omitempty"`
}

type apiCfg struct {
	Token string `yaml:"token"`
}

// generateSecret creates a random secret string.
func generateSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		log.WithError(err).Warn("generate secret failed")
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes a starter config file with a hashed admin password
// and freshly generated JWT secret and API token.
func WriteConfigFile(req InitRequest) (InitResult, error) {
	if errValidate := validateInitRequest(&req); errValidate != nil {
		return InitResult{}, errValidate
	}
	if ConfigExists(req.ConfigPath) && !req.Force {
		return InitResult{}, fmt.Errorf("%w: %s", ErrConfigExists, req.ConfigPath)
	}

	hashedPassword, errHash := security.HashPassword(req.AdminPassword)
	if errHash != nil {
		return InitResult{}, fmt.Errorf("hash password: %w", errHash)
	}
	result := InitResult{ConfigPath: req.ConfigPath, APIToken: generateSecret()}
	cfg := configFile{
		Port:        req.Port,
		DatabaseDSN: req.DatabaseDSN,
		LogLevel:    "info",
		JWT: jwtCfg{
			Secret: generateSecret(),
			Expiry: "720h",
		},
		Admin: adminCfg{
			Username:     req.AdminUsername,
			PasswordHash: hashedPassword,
		},
		API: apiCfg{Token: result.APIToken},
	}
	if req.EnableTOTP {
		secret, otpURL, errTOTP := security.GenerateTOTPSecret(req.AdminUsername)
		if errTOTP != nil {
			return InitResult{}, fmt.Errorf("generate totp secret: %w", errTOTP)
		}
		cfg.Admin.TOTPSecret = secret
		result.TOTPURL = otpURL
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return InitResult{}, fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(req.ConfigPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return InitResult{}, fmt.Errorf("create config dir: %w", errMkdir)
	}
	if errWrite := os.WriteFile(req.ConfigPath, data, 0600); errWrite != nil {
		return InitResult{}, fmt.Errorf("write config file: %w", errWrite)
	}
	return result, nil
}
