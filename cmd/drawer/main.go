package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/GeminiDrawer/internal/app"
	"github.com/router-for-me/GeminiDrawer/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	errRun := run(ctx, os.Args[1:])
	stop()
	if errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run dispatches to the serve, migrate or init command.
func run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			return runMigrate(ctx, args[1:])
		case "init":
			return runInit(args[1:])
		}
	}
	return runServe(ctx, args)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drawer", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 8318, "server port when the config file does not set one")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}
	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	return app.RunServer(ctx, appCfg, *port)
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drawer migrate", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	legacyKeys := fs.String("legacy-keys", "", "legacy keys.json to import")
	legacyData := fs.String("legacy-data", "", "legacy data.json with prompts and channels to import")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	return app.Migrate(ctx, appCfg, app.LegacyPaths{Keys: *legacyKeys, Data: *legacyData})
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("drawer init", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path to write (or env CONFIG_PATH)")
	dsn := fs.String("dsn", "", "database DSN (default: local SQLite file)")
	port := fs.Int("port", 8318, "server port")
	username := fs.String("admin", "admin", "admin username")
	password := fs.String("password", "", "admin password (or env DRAWER_ADMIN_PASSWORD)")
	withTOTP := fs.Bool("totp", false, "generate a TOTP secret for admin login")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*password) == "" {
		*password = os.Getenv("DRAWER_ADMIN_PASSWORD")
	}
	result, errWrite := app.WriteConfigFile(app.InitRequest{
		ConfigPath:    appCfg.ConfigPath,
		DatabaseDSN:   *dsn,
		Port:          *port,
		AdminUsername: *username,
		AdminPassword: *password,
		EnableTOTP:    *withTOTP,
		Force:         *force,
	})
	if errWrite != nil {
		return errWrite
	}
	fmt.Printf("config written to %s\n", result.ConfigPath)
	fmt.Printf("draw api token: %s\n", result.APIToken)
	if result.TOTPURL != "" {
		fmt.Printf("totp enrollment url: %s\n", result.TOTPURL)
	}
	return nil
}

func loadAppConfig(path string) (config.AppConfig, error) {
	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return config.AppConfig{}, err
	}
	if strings.TrimSpace(path) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(path)
	}
	return appCfg, nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
