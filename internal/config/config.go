package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	authConfig "github.com/iurnickita/encargos/internal/auth/config"
	handlerConfig "github.com/iurnickita/encargos/internal/handler/config"
	loggerConfig "github.com/iurnickita/encargos/internal/logger/config"
	serviceConfig "github.com/iurnickita/encargos/internal/service/config"
	storeConfig "github.com/iurnickita/encargos/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
}

const (
	keyRunAddress    = "run_address"
	keyDatabaseURI   = "database_uri"
	keyBalanceSystem = "balance_system_address"
	keyLogLevel      = "log_level"
	keySecretKey     = "secret_key"
	keyTokenExp      = "token_exp"
)

// GetConfig - конфигурация из флагов, переменных окружения и .env
func GetConfig() Config {
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		log.Printf("config: %v, defaults are used", err)
	}
	return cfg
}

// LoadConfig разбирает аргументы. Приоритет: флаг, переменная окружения, значение по умолчанию
func LoadConfig(args []string) (Config, error) {
	fs := pflag.NewFlagSet("encargos", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringP("address", "a", ":8080", "server address")
	fs.StringP("database", "d", "", "database DSN")
	fs.StringP("balance", "r", "", "balance report system address")
	fs.StringP("log", "l", "info", "log level")
	fs.StringP("key", "k", "", "token secret key")
	fs.Duration("token-exp", 12*time.Hour, "token lifetime")

	v := viper.New()
	v.SetDefault(keyRunAddress, ":8080")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keySecretKey, "encargos-dev-secret")
	v.SetDefault(keyTokenExp, 12*time.Hour)

	bind := map[string]struct{ flag, env string }{
		keyRunAddress:    {"address", "RUN_ADDRESS"},
		keyDatabaseURI:   {"database", "DATABASE_URI"},
		keyBalanceSystem: {"balance", "BALANCE_SYSTEM_ADDRESS"},
		keyLogLevel:      {"log", "LOG_LEVEL"},
		keySecretKey:     {"key", "SECRET_KEY"},
		keyTokenExp:      {"token-exp", "TOKEN_EXP"},
	}
	for key, b := range bind {
		if err := v.BindPFlag(key, fs.Lookup(b.flag)); err != nil {
			return Config{}, err
		}
		if err := v.BindEnv(key, b.env); err != nil {
			return Config{}, err
		}
	}

	err := fs.Parse(args)

	cfg := Config{
		Handler: handlerConfig.Config{ServerAddr: v.GetString(keyRunAddress)},
		Service: serviceConfig.Config{BalanceSystemAddr: v.GetString(keyBalanceSystem)},
		Store:   storeConfig.Config{DBDsn: v.GetString(keyDatabaseURI)},
		Logger:  loggerConfig.Config{LogLevel: v.GetString(keyLogLevel)},
		Auth: authConfig.Config{
			SecretKey: v.GetString(keySecretKey),
			TokenExp:  v.GetDuration(keyTokenExp),
		},
	}
	return cfg, err
}
