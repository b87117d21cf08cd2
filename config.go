package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Symbol represents the tracked asset.
	Symbol string
	// CoinglassAPIKey is the Coinglass API key.
	CoinglassAPIKey string
	// CoinglassActivePlan is the subscribed Coinglass plan.
	CoinglassActivePlan string
	// DBEndpoint represents the database connection endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// EnableCronJobs enables the scheduled jobs.
	EnableCronJobs bool
	// EnableStartupCache warms the candle store on startup.
	EnableStartupCache bool

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.CoinglassAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("coinglass api key cannot be an empty string"))
	}
	if cfg.DBEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(strings.ToUpper(name))
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("symbol", &cfg.Symbol, "the tracked asset")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("coinglass_api_key", &cfg.CoinglassAPIKey, "the Coinglass api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("coinglass_active_plan", &cfg.CoinglassActivePlan, "the subscribed Coinglass plan")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("db_endpoint", &cfg.DBEndpoint, "the database connection endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("db_user", &cfg.DBUser, "the database user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("db_pass", &cfg.DBPass, "the database user pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("enable_cron_jobs", &cfg.EnableCronJobs, "the scheduled jobs flag")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("enable_startup_cache", &cfg.EnableStartupCache, "the startup cache warm flag")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	if cfg.Symbol == "" {
		cfg.Symbol = "BTC"
	}

	return cfg.Validate()
}
