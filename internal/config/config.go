package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Config holds the service settings
type Config struct {
	Port           string
	GRPCHealthPort string
	StoreBackend   string
	MongoURI       string
	MongoDatabase  string
	Floors         []string
	TaxRate        decimal.Decimal
	DefaultStock   int
	MaxStock       int
	AbandonTimeout time.Duration
	SweepInterval  time.Duration
	MenuCacheTTL   time.Duration
	MenuCacheSize  int
	SeedDefaults   bool
	LogDev         bool

	// Load test mode
	LoadTest bool
	Clients  int
	Stock    int
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Port:           "8080",
		GRPCHealthPort: "50210",
		StoreBackend:   BackendMemory,
		MongoDatabase:  "canteen",
		Floors:         []string{"Floor 1", "Floor 2", "Floor 3", "Floor 4"},
		TaxRate:        decimal.RequireFromString("0.18"),
		DefaultStock:   10,
		AbandonTimeout: 30 * time.Minute,
		SweepInterval:  time.Minute,
		MenuCacheTTL:   5 * time.Second,
		MenuCacheSize:  64,
		SeedDefaults:   true,
		Clients:        100,
		Stock:          25,
	}
}

// Load reads .env (if present), then the environment, then command line flags.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.fromEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.fromFlags(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fromEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("GRPC_HEALTH_PORT", &c.GRPCHealthPort)
	str("STORE_BACKEND", &c.StoreBackend)
	str("MONGO_URI", &c.MongoURI)
	str("MONGO_DATABASE", &c.MongoDatabase)

	if v, ok := lookup("FLOORS"); ok && v != "" {
		c.Floors = splitFloors(v)
	}
	if v, ok := lookup("TAX_RATE"); ok && v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid TAX_RATE %q: %w", v, err)
		}
		c.TaxRate = rate
	}

	ints := map[string]*int{
		"DEFAULT_STOCK":   &c.DefaultStock,
		"MAX_STOCK":       &c.MaxStock,
		"MENU_CACHE_SIZE": &c.MenuCacheSize,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"ABANDON_TIMEOUT": &c.AbandonTimeout,
		"SWEEP_INTERVAL":  &c.SweepInterval,
		"MENU_CACHE_TTL":  &c.MenuCacheTTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"SEED_DEFAULTS": &c.SeedDefaults,
		"LOG_DEV":       &c.LogDev,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c *Config) fromFlags(args []string) error {
	fl := pflag.NewFlagSet("canteen", pflag.ContinueOnError)
	fl.StringVar(&c.Port, "port", c.Port, "HTTP listen port")
	fl.StringVar(&c.GRPCHealthPort, "grpc-health-port", c.GRPCHealthPort, "gRPC health listen port")
	fl.StringVar(&c.StoreBackend, "store", c.StoreBackend, "store backend: memory or mongo")
	fl.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection URI")
	fl.StringVar(&c.MongoDatabase, "mongo-db", c.MongoDatabase, "MongoDB database name")
	floors := fl.StringSlice("floors", c.Floors, "floor names")
	taxRate := fl.String("tax-rate", c.TaxRate.String(), "tax rate applied to bill subtotals")
	fl.IntVar(&c.DefaultStock, "default-stock", c.DefaultStock, "stock assigned to new items without one")
	fl.IntVar(&c.MaxStock, "max-stock", c.MaxStock, "upper bound for restored stock (0 = none)")
	fl.DurationVar(&c.AbandonTimeout, "abandon-timeout", c.AbandonTimeout, "age after which a suspended cart is restored")
	fl.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "how often abandoned carts are swept")
	fl.DurationVar(&c.MenuCacheTTL, "menu-cache-ttl", c.MenuCacheTTL, "menu projection cache lifetime")
	fl.IntVar(&c.MenuCacheSize, "menu-cache-size", c.MenuCacheSize, "menu projection cache entries")
	fl.BoolVar(&c.SeedDefaults, "seed", c.SeedDefaults, "seed default menus into empty floors")
	fl.BoolVar(&c.LogDev, "dev", c.LogDev, "development logging")
	fl.BoolVar(&c.LoadTest, "loadtest", c.LoadTest, "run the reservation load test and exit")
	fl.IntVar(&c.Clients, "clients", c.Clients, "load test: concurrent clients")
	fl.IntVar(&c.Stock, "stock", c.Stock, "load test: starting stock")

	if err := fl.Parse(args); err != nil {
		return err
	}

	c.Floors = trimAll(*floors)
	rate, err := decimal.NewFromString(*taxRate)
	if err != nil {
		return fmt.Errorf("invalid --tax-rate %q: %w", *taxRate, err)
	}
	c.TaxRate = rate
	return nil
}

// Validate checks the settings for consistency
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if len(c.Floors) == 0 {
		return errors.New("at least one floor is required")
	}
	if c.TaxRate.IsNegative() {
		return fmt.Errorf("tax rate cannot be negative: %s", c.TaxRate)
	}
	if c.DefaultStock < 0 {
		return fmt.Errorf("default stock cannot be negative: %d", c.DefaultStock)
	}
	if c.MaxStock < 0 {
		return fmt.Errorf("max stock cannot be negative: %d", c.MaxStock)
	}
	if c.AbandonTimeout <= 0 {
		return fmt.Errorf("abandon timeout must be positive: %v", c.AbandonTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive: %v", c.SweepInterval)
	}
	if c.MenuCacheTTL < 0 {
		return fmt.Errorf("menu cache ttl cannot be negative: %v", c.MenuCacheTTL)
	}
	if c.MenuCacheSize <= 0 {
		return fmt.Errorf("menu cache size must be positive: %d", c.MenuCacheSize)
	}
	return nil
}

func splitFloors(v string) []string {
	return trimAll(strings.Split(v, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
