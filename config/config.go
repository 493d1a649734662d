package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Arena    ArenaConfig    `mapstructure:"arena"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MonitorAddress string `mapstructure:"monitor_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	File     FileConfig     `mapstructure:"file"`
}

// FileConfig backs the JSON file store used when Postgres is not configured.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type OracleConfig struct {
	// Kind selects the roster source: "ethereum" talks to the arena
	// contract over JSON-RPC, "mock" keeps rosters in memory.
	Kind            string        `mapstructure:"kind"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// ArenaConfig carries the game timing knobs. Countdowns are recomputed from
// absolute deadlines, so these values only anchor the math.
type ArenaConfig struct {
	ActivationDelay   time.Duration `mapstructure:"activation_delay"`
	GuessWindow       time.Duration `mapstructure:"guess_window"`
	GameLifetime      time.Duration `mapstructure:"game_lifetime"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("database.file.path", "data/deployed_games.json")
	viper.SetDefault("oracle.kind", "mock")
	viper.SetDefault("oracle.request_timeout", 5*time.Second)
	viper.SetDefault("arena.activation_delay", 30*time.Second)
	viper.SetDefault("arena.guess_window", 10*time.Second)
	viper.SetDefault("arena.game_lifetime", 10*time.Minute)
	viper.SetDefault("arena.reconcile_interval", 3*time.Second)

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
