package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type AWSConfig struct {
	Region        string `mapstructure:"region"`
	ImageID       string `mapstructure:"image_id"`
	InstanceType  string `mapstructure:"instance_type"`
	SubnetID      string `mapstructure:"subnet_id"`
	SecurityGroup string `mapstructure:"security_group"`
}

type MediaConfig struct {
	// MaxWorkers caps the worker pool; the effective size is
	// min(NumCPU, MaxWorkers).
	MaxWorkers int `mapstructure:"max_workers"`
}

type ProvisionConfig struct {
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RunningTimeout time.Duration `mapstructure:"running_timeout"`
	// ReclaimInterval arms the idle-reclamation ticker; zero leaves
	// reclamation to external triggers only.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Redis     RedisConfig     `mapstructure:"redis"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Media     MediaConfig     `mapstructure:"media"`
	Provision ProvisionConfig `mapstructure:"provision"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")

	v.SetDefault("aws.region", "ap-south-1")
	v.SetDefault("aws.instance_type", "t3.medium")

	v.SetDefault("media.max_workers", 4)

	v.SetDefault("provision.settle_delay", "30s")
	v.SetDefault("provision.running_timeout", "3m")
	v.SetDefault("provision.reclaim_interval", "0s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Redis: %s\n", cfg.Mode, cfg.Port, cfg.Redis.Addr)
	return &cfg, nil
}
