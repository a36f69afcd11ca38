package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"carrierwave/internal/domain"
)

// ErrNoDatabase is returned alongside a usable Config when DATABASE_URL is
// unset; callers fall back to the in-memory ledger.
var ErrNoDatabase = errors.New("DATABASE_URL not set")

type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string
	LogLevel    string
	MaxConns    int

	MirrorDBPath  string
	MirrorWorkers int
	MirrorPoll    time.Duration

	PlatformFeeBps uint32
	Treasury       domain.Address
	Custody        domain.Address
	EscrowVault    domain.Address
	EscrowAdmin    domain.Address

	RateLimitRPS   float64
	RateLimitBurst int

	// EnableDevRoutes mounts the HTTP deposit route. It mints host balance, so
	// it is off unless ENABLE_DEV_ROUTES is set.
	EnableDevRoutes bool
}

func (c Config) Development() bool { return c.Env == "development" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseFloat(v, 64); err == nil {
			return out
		}
	}
	return def
}

// Default addresses used when none are configured. They are fine for local
// runs only.
var (
	devTreasury = "0x852eD1fFbc473e7353D793F9FffAFbC24FAf907D"
	devCustody  = "0xEe7c58E02387548f7628e467d862483Ebb285e7f"
	devVault    = "0x7aB1C6d4e5F2a3B9c8D0e1F2a3b4C5d6E7f8A9b0"
	devAdmin    = "0x59aD4b2F6c3E8d7A1b0C9e8F7a6B5c4D3e2F1a0B"
)

// Load reads configuration from the environment, after loading .env from the
// working directory if one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:            getenv("APP_ENV", "development"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		MaxConns:       getenvInt("MAX_CONNS", 256),
		MirrorDBPath:   getenv("MIRROR_DB_PATH", "mirror.db"),
		MirrorWorkers:  getenvInt("MIRROR_WORKERS", 2),
		MirrorPoll:     time.Duration(getenvInt("MIRROR_POLL_MS", 500)) * time.Millisecond,
		RateLimitRPS:   getenvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40),

		EnableDevRoutes: getenvBool("ENABLE_DEV_ROUTES", false),
	}

	fee := getenvInt("PLATFORM_FEE_BPS", 250)
	if fee < 0 || fee > domain.MaxBps {
		return cfg, fmt.Errorf("PLATFORM_FEE_BPS %d out of range 0..%d", fee, domain.MaxBps)
	}
	cfg.PlatformFeeBps = uint32(fee)

	prod := cfg.Env == "production"
	if prod && cfg.EnableDevRoutes {
		return cfg, fmt.Errorf("ENABLE_DEV_ROUTES must not be set in production")
	}
	addrs := []struct {
		key string
		def string
		out *domain.Address
	}{
		{"TREASURY_ADDRESS", devTreasury, &cfg.Treasury},
		{"CUSTODY_ADDRESS", devCustody, &cfg.Custody},
		{"ESCROW_VAULT_ADDRESS", devVault, &cfg.EscrowVault},
		{"ESCROW_ADMIN_ADDRESS", devAdmin, &cfg.EscrowAdmin},
	}
	for _, a := range addrs {
		v := os.Getenv(a.key)
		if v == "" {
			if prod {
				return cfg, fmt.Errorf("%s is required in production", a.key)
			}
			v = a.def
		}
		addr, err := ParseAddress(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", a.key, err)
		}
		*a.out = addr
	}

	if cfg.DatabaseURL == "" {
		return cfg, ErrNoDatabase
	}
	return cfg, nil
}

// ParseAddress accepts a 0x-prefixed hex address and rejects the zero address.
func ParseAddress(s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("malformed address %q", s)
	}
	a := common.HexToAddress(s)
	if a == (domain.Address{}) {
		return domain.Address{}, fmt.Errorf("zero address not allowed")
	}
	return a, nil
}
