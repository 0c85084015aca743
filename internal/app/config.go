package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	battle "real-pet/battle"
	"real-pet/battle/internal/telemetry"
	"real-pet/battle/logging"
)

const (
	defaultListen   = ":9400"
	defaultTickRate = 60
	defaultLogLevel = "info"
)

// Config is the runtime configuration of one battle process.
type Config struct {
	// Listen is the address peers dial. Empty disables the accept server.
	Listen string `json:"listen,omitempty"`
	// Peers are websocket URLs dialled at startup, for example
	// ws://host:9400/battle.
	Peers      []string `json:"peers,omitempty"`
	Players    int      `json:"players"`
	LocalIndex int      `json:"localIndex"`
	TickRate   int      `json:"tickRate"`
	// MaxFrames stops the battle after this many frames. Zero runs until the
	// battle exits on its own.
	MaxFrames int `json:"maxFrames,omitempty"`
	// BattleScript and PlayerScripts are paths to script packages. Every
	// peer must configure the same packages in the same order.
	BattleScript  string   `json:"battleScript,omitempty"`
	PlayerScripts []string `json:"playerScripts,omitempty"`
	BotSeed       uint64   `json:"botSeed"`
	LogLevel      string   `json:"logLevel"`
	LogJSON       bool     `json:"logJSON"`

	Battle  battle.Config  `json:"battle"`
	Logging logging.Config `json:"logging"`
}

// DefaultConfig returns a solo battle against the local bot.
func DefaultConfig() Config {
	return Config{
		Listen:   defaultListen,
		Players:  1,
		TickRate: defaultTickRate,
		LogLevel: defaultLogLevel,
		Battle:   battle.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// LoadConfig reads a JSON config on top of the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings the process cannot run with.
func (c Config) Validate() error {
	if c.Players < 1 {
		return errors.New("players must be at least 1")
	}
	if c.LocalIndex < 0 || c.LocalIndex >= c.Players {
		return fmt.Errorf("local index %d outside 0..%d", c.LocalIndex, c.Players-1)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %d", c.TickRate)
	}
	if len(c.PlayerScripts) > c.Players {
		return fmt.Errorf("%d player scripts for %d players", len(c.PlayerScripts), c.Players)
	}
	if c.Players > 1 && c.Listen == "" && len(c.Peers) == 0 {
		return errors.New("multiplayer battle needs a listen address or peers")
	}
	return nil
}

// applyEnv overrides config fields from the environment. Invalid values are
// logged and ignored.
func applyEnv(cfg Config, getenv func(string) string, logger telemetry.Logger) Config {
	if raw := getenv("BATTLE_LISTEN"); raw != "" {
		cfg.Listen = raw
	}
	if raw := getenv("BATTLE_TICK_RATE"); raw != "" {
		if value, err := positiveInt(raw); err == nil {
			cfg.TickRate = value
		} else {
			logger.Printf("invalid BATTLE_TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := getenv("BATTLE_INPUT_BUFFER_LIMIT"); raw != "" {
		if value, err := positiveInt(raw); err == nil {
			cfg.Battle.InputBufferLimit = value
		} else {
			logger.Printf("invalid BATTLE_INPUT_BUFFER_LIMIT=%q: %v", raw, err)
		}
	}
	if raw := getenv("BATTLE_LOCAL_INDEX"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			cfg.LocalIndex = value
		} else {
			logger.Printf("invalid BATTLE_LOCAL_INDEX=%q: %v", raw, err)
		}
	}
	if raw := getenv("BATTLE_LOG_JSON"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.LogJSON = value
		} else {
			logger.Printf("invalid BATTLE_LOG_JSON=%q: %v", raw, err)
		}
	}
	return cfg
}

func positiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("%d is not positive", value)
	}
	return value, nil
}
