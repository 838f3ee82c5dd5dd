package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServeConfig holds configuration for the HTTP API process.
type ServeConfig struct {
	ListenAddr       string
	RPCURL           string
	PGDSN            string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	QueuePrefix      string
	ContractABI      string
	ContractAddress  string
	FeePayerKeystore string
	FeePayerPassword string
	FeePayerKey      string
	GasLimit         uint64
	PollInterval     time.Duration
	ConfirmTimeout   time.Duration
	LogLevel         string
}

// WorkerConfig holds configuration for the mint worker process.
type WorkerConfig struct {
	RPCURL           string
	PGDSN            string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	QueuePrefix      string
	Concurrency      int
	MaxAttempts      int
	RetryBackoff     time.Duration
	PopTimeout       time.Duration
	JobTimeout       time.Duration
	ContractABI      string
	ContractAddress  string
	FeePayerKeystore string
	FeePayerPassword string
	FeePayerKey      string
	GasMint          uint64
	PollInterval     time.Duration
	ConfirmTimeout   time.Duration
	IPFSEndpoint     string
	IPFSToken        string
	IPFSTimeout      time.Duration
	LogLevel         string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("listen-addr", ":8080")
		v.SetDefault("redis-addr", "localhost:6379")
		v.SetDefault("queue-prefix", "nftmarket")
		v.SetDefault("contract-abi", "./deployed/abi.json")
		v.SetDefault("contract-address", "./deployed/address.txt")
		v.SetDefault("poll-interval", time.Second)
		v.SetDefault("confirm-timeout", 2*time.Minute)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		ListenAddr:       v.GetString("listen-addr"),
		RPCURL:           v.GetString("rpc-url"),
		PGDSN:            v.GetString("pg-dsn"),
		RedisAddr:        v.GetString("redis-addr"),
		RedisPassword:    v.GetString("redis-password"),
		RedisDB:          v.GetInt("redis-db"),
		QueuePrefix:      v.GetString("queue-prefix"),
		ContractABI:      v.GetString("contract-abi"),
		ContractAddress:  v.GetString("contract-address"),
		FeePayerKeystore: v.GetString("fee-payer-keystore"),
		FeePayerPassword: v.GetString("fee-payer-password"),
		FeePayerKey:      v.GetString("fee-payer-key"),
		GasLimit:         v.GetUint64("gas-limit"),
		PollInterval:     v.GetDuration("poll-interval"),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		LogLevel:         v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return ServeConfig{}, fmt.Errorf("rpc-url is required")
	}
	if cfg.PGDSN == "" {
		return ServeConfig{}, fmt.Errorf("pg-dsn is required")
	}
	return cfg, nil
}

// LoadWorker merges config file, environment variables, and flags into WorkerConfig.
func LoadWorker(cfgFile string, flags *pflag.FlagSet) (WorkerConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("redis-addr", "localhost:6379")
		v.SetDefault("queue-prefix", "nftmarket")
		v.SetDefault("concurrency", 4)
		v.SetDefault("max-attempts", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("pop-timeout", 5*time.Second)
		v.SetDefault("job-timeout", 5*time.Minute)
		v.SetDefault("contract-abi", "./deployed/abi.json")
		v.SetDefault("contract-address", "./deployed/address.txt")
		v.SetDefault("poll-interval", time.Second)
		v.SetDefault("confirm-timeout", 2*time.Minute)
		v.SetDefault("ipfs-timeout", 30*time.Second)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return WorkerConfig{}, err
	}

	cfg := WorkerConfig{
		RPCURL:           v.GetString("rpc-url"),
		PGDSN:            v.GetString("pg-dsn"),
		RedisAddr:        v.GetString("redis-addr"),
		RedisPassword:    v.GetString("redis-password"),
		RedisDB:          v.GetInt("redis-db"),
		QueuePrefix:      v.GetString("queue-prefix"),
		Concurrency:      v.GetInt("concurrency"),
		MaxAttempts:      v.GetInt("max-attempts"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		PopTimeout:       v.GetDuration("pop-timeout"),
		JobTimeout:       v.GetDuration("job-timeout"),
		ContractABI:      v.GetString("contract-abi"),
		ContractAddress:  v.GetString("contract-address"),
		FeePayerKeystore: v.GetString("fee-payer-keystore"),
		FeePayerPassword: v.GetString("fee-payer-password"),
		FeePayerKey:      v.GetString("fee-payer-key"),
		GasMint:          v.GetUint64("gas-mint"),
		PollInterval:     v.GetDuration("poll-interval"),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		IPFSEndpoint:     v.GetString("ipfs-endpoint"),
		IPFSToken:        v.GetString("ipfs-token"),
		IPFSTimeout:      v.GetDuration("ipfs-timeout"),
		LogLevel:         v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return WorkerConfig{}, fmt.Errorf("rpc-url is required")
	}
	if cfg.PGDSN == "" {
		return WorkerConfig{}, fmt.Errorf("pg-dsn is required")
	}
	if cfg.Concurrency < 1 {
		return WorkerConfig{}, fmt.Errorf("concurrency must be at least 1")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
