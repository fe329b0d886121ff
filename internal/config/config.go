package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Strategy names accepted by the orchestrator.
const (
	StrategySingleLocal    = "single-local"
	StrategySingleProvider = "single-provider"
	StrategyHybridAll      = "hybrid-all"
)

// OptimizationConfig is the single flat configuration for the service and the engine.
type OptimizationConfig struct {
	HTTPAddr    string `yaml:"httpAddr" env:"HTTP_ADDR" validate:"required"`
	LogLevel    string `yaml:"logLevel" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`

	Strategy      string        `yaml:"strategy" env:"OPT_STRATEGY" validate:"oneof=single-local single-provider hybrid-all"`
	Fallbacks     []string      `yaml:"fallbacks" env:"OPT_FALLBACKS" validate:"dive,oneof=single-local single-provider hybrid-all"`
	Algorithm     string        `yaml:"algorithm" env:"OPT_ALGORITHM" validate:"oneof=ga sa aco alns"`
	Provider      string        `yaml:"provider" env:"OPT_PROVIDER" validate:"omitempty,oneof=fleetsaas cloudfleet"`
	HybridSolvers []string      `yaml:"hybridSolvers" env:"OPT_HYBRID_SOLVERS" validate:"dive,oneof=ga sa aco alns fleetsaas cloudfleet"`
	MaxCompute    time.Duration `yaml:"maxComputeTime" env:"OPT_MAX_COMPUTE_TIME" validate:"gt=0"`
	GracePeriod   time.Duration `yaml:"gracePeriod" env:"OPT_GRACE_PERIOD" validate:"gte=0"`
	Seed          int64         `yaml:"seed" env:"OPT_SEED"`

	GAPopulation          int     `yaml:"gaPopulation" env:"GA_POPULATION" validate:"gte=4"`
	GAGenerations         int     `yaml:"gaGenerations" env:"GA_GENERATIONS" validate:"gte=1"`
	GAEliteFraction       float64 `yaml:"gaEliteFraction" env:"GA_ELITE_FRACTION" validate:"gt=0,lt=1"`
	GATournamentSize      int     `yaml:"gaTournamentSize" env:"GA_TOURNAMENT_SIZE" validate:"gte=2"`
	GAMutationRate        float64 `yaml:"gaMutationRate" env:"GA_MUTATION_RATE" validate:"gte=0,lte=1"`
	GAMutationDecay       float64 `yaml:"gaMutationDecay" env:"GA_MUTATION_DECAY" validate:"gt=0,lte=1"`
	GAConvergenceVariance float64 `yaml:"gaConvergenceVariance" env:"GA_CONVERGENCE_VARIANCE" validate:"gte=0"`
	GAStallGenerations    int     `yaml:"gaStallGenerations" env:"GA_STALL_GENERATIONS" validate:"gte=1"`
	GALocalSearch         bool    `yaml:"gaLocalSearch" env:"GA_LOCAL_SEARCH"`

	SAInitialTemp   float64 `yaml:"saInitialTemp" env:"SA_INITIAL_TEMP" validate:"gte=0"`
	SACoolingRate   float64 `yaml:"saCoolingRate" env:"SA_COOLING_RATE" validate:"gt=0,lt=1"`
	SAMinTemp       float64 `yaml:"saMinTemp" env:"SA_MIN_TEMP" validate:"gt=0"`
	SAMaxIterations int     `yaml:"saMaxIterations" env:"SA_MAX_ITERATIONS" validate:"gte=1"`
	SAReheatAfter   int     `yaml:"saReheatAfter" env:"SA_REHEAT_AFTER" validate:"gte=1"`
	SAReheatFactor  float64 `yaml:"saReheatFactor" env:"SA_REHEAT_FACTOR" validate:"gt=1"`

	ACOAnts          int     `yaml:"acoAnts" env:"ACO_ANTS" validate:"gte=1"`
	ACOIterations    int     `yaml:"acoIterations" env:"ACO_ITERATIONS" validate:"gte=1"`
	ACOAlpha         float64 `yaml:"acoAlpha" env:"ACO_ALPHA" validate:"gte=0"`
	ACOBeta          float64 `yaml:"acoBeta" env:"ACO_BETA" validate:"gte=0"`
	ACOEvaporation   float64 `yaml:"acoEvaporation" env:"ACO_EVAPORATION" validate:"gt=0,lt=1"`
	ACODeposit       float64 `yaml:"acoDeposit" env:"ACO_DEPOSIT" validate:"gt=0"`
	ACOElitistWeight float64 `yaml:"acoElitistWeight" env:"ACO_ELITIST_WEIGHT" validate:"gte=0"`

	ALNSIterations      int     `yaml:"alnsIterations" env:"ALNS_ITERATIONS" validate:"gte=1"`
	ALNSRemoveFraction  float64 `yaml:"alnsRemoveFraction" env:"ALNS_REMOVE_FRACTION" validate:"gt=0,lte=1"`
	LocalSearchMaxIters int     `yaml:"localSearchMaxIterations" env:"LS_MAX_ITERATIONS" validate:"gte=1"`

	AverageSpeedKph   float64 `yaml:"averageSpeedKph" env:"AVERAGE_SPEED_KPH" validate:"gt=0"`
	FuelLitersPerKm   float64 `yaml:"fuelLitersPerKm" env:"FUEL_LITERS_PER_KM" validate:"gte=0"`
	CO2KgPerLiter     float64 `yaml:"co2KgPerLiter" env:"CO2_KG_PER_LITER" validate:"gte=0"`
	PenaltyWeight     float64 `yaml:"penaltyWeight" env:"PENALTY_WEIGHT" validate:"gte=0"`
	UnassignedPenalty float64 `yaml:"unassignedPenalty" env:"UNASSIGNED_PENALTY" validate:"gte=0"`

	FuelRatio     float64 `yaml:"fuelRatio" env:"COST_FUEL_RATIO" validate:"gte=0,lte=1"`
	LaborRatio    float64 `yaml:"laborRatio" env:"COST_LABOR_RATIO" validate:"gte=0,lte=1"`
	VehicleRatio  float64 `yaml:"vehicleRatio" env:"COST_VEHICLE_RATIO" validate:"gte=0,lte=1"`
	OverheadRatio float64 `yaml:"overheadRatio" env:"COST_OVERHEAD_RATIO" validate:"gte=0,lte=1"`

	ORSAPIKey         string        `yaml:"orsApiKey" env:"ORS_API_KEY"`
	ORSBaseURL        string        `yaml:"orsBaseUrl" env:"ORS_BASE_URL" validate:"omitempty,url"`
	ORSProfile        string        `yaml:"orsProfile" env:"ORS_PROFILE"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" env:"PROVIDER_RPS" validate:"gt=0"`
	ProviderTimeout   time.Duration `yaml:"providerTimeout" env:"PROVIDER_TIMEOUT" validate:"gt=0"`
	MatrixMemoSize    int           `yaml:"matrixMemoSize" env:"MATRIX_MEMO_SIZE" validate:"gte=0"`

	FleetSaaSURL      string `yaml:"fleetSaasUrl" env:"FLEETSAAS_URL" validate:"omitempty,url"`
	FleetSaaSToken    string `yaml:"fleetSaasToken" env:"FLEETSAAS_TOKEN"`
	CloudFleetURL     string `yaml:"cloudFleetUrl" env:"CLOUDFLEET_URL" validate:"omitempty,url"`
	CloudFleetProject string `yaml:"cloudFleetProject" env:"CLOUDFLEET_PROJECT"`
	CloudFleetToken   string `yaml:"cloudFleetToken" env:"CLOUDFLEET_TOKEN"`

	CacheTTL     time.Duration `yaml:"cacheTTL" env:"CACHE_TTL" validate:"gte=0"`
	RedisURL     string        `yaml:"redisUrl" env:"REDIS_URL"`
	DatabaseURL  string        `yaml:"databaseUrl" env:"DATABASE_URL"`
	AdvisorURL   string        `yaml:"advisorUrl" env:"ADVISOR_URL" validate:"omitempty,url"`
	AdvisorToken string        `yaml:"advisorToken" env:"ADVISOR_TOKEN"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *OptimizationConfig {
	return &OptimizationConfig{
		HTTPAddr:    ":8080",
		LogLevel:    "info",
		Environment: "development",

		Strategy:    StrategyHybridAll,
		Fallbacks:   []string{StrategySingleLocal},
		Algorithm:   "ga",
		MaxCompute:  30 * time.Second,
		GracePeriod: 2 * time.Second,
		Seed:        1,

		GAPopulation:          120,
		GAGenerations:         300,
		GAEliteFraction:       0.1,
		GATournamentSize:      3,
		GAMutationRate:        0.3,
		GAMutationDecay:       0.995,
		GAConvergenceVariance: 1e-6,
		GAStallGenerations:    30,
		GALocalSearch:         true,

		SACoolingRate:   0.995,
		SAMinTemp:       1e-3,
		SAMaxIterations: 20000,
		SAReheatAfter:   800,
		SAReheatFactor:  3,

		ACOAnts:          16,
		ACOIterations:    80,
		ACOAlpha:         1,
		ACOBeta:          2,
		ACOEvaporation:   0.1,
		ACODeposit:       1,
		ACOElitistWeight: 2,

		ALNSIterations:      600,
		ALNSRemoveFraction:  0.2,
		LocalSearchMaxIters: 1000,

		AverageSpeedKph:   40,
		FuelLitersPerKm:   0.3,
		CO2KgPerLiter:     2.68,
		PenaltyWeight:     1000,
		UnassignedPenalty: 10000,

		FuelRatio:     0.35,
		LaborRatio:    0.40,
		VehicleRatio:  0.15,
		OverheadRatio: 0.10,

		ORSBaseURL:        "https://api.openrouteservice.org",
		ORSProfile:        "driving-car",
		RequestsPerSecond: 5,
		ProviderTimeout:   20 * time.Second,
		MatrixMemoSize:    128,

		CacheTTL: time.Hour,
	}
}

// Load reads an optional .env file, an optional YAML file, then environment overrides, and validates the result.
func Load(path string) (*OptimizationConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *OptimizationConfig) Validate() error {
	if err := validate().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	if sum := c.FuelRatio + c.LaborRatio + c.VehicleRatio + c.OverheadRatio; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: invalid: cost breakdown ratios sum to %.3f, want 1", sum)
	}
	if c.Strategy == StrategySingleProvider && c.Provider == "" {
		return errors.New("config: invalid: single-provider strategy needs provider")
	}
	return nil
}

// FleetSaaSConfigured reports whether the fleet SaaS adapter has an endpoint and credentials.
func (c *OptimizationConfig) FleetSaaSConfigured() bool {
	return c.FleetSaaSURL != "" && c.FleetSaaSToken != ""
}

// CloudFleetConfigured reports whether the cloud optimization adapter has an endpoint, project and credentials.
func (c *OptimizationConfig) CloudFleetConfigured() bool {
	return c.CloudFleetURL != "" && c.CloudFleetProject != "" && c.CloudFleetToken != ""
}

// Redacted returns a copy safe to expose over the API.
func (c *OptimizationConfig) Redacted() OptimizationConfig {
	out := *c
	for _, s := range []*string{&out.ORSAPIKey, &out.FleetSaaSToken, &out.CloudFleetToken, &out.AdvisorToken, &out.DatabaseURL, &out.RedisURL} {
		if *s != "" {
			*s = "***"
		}
	}
	out.Fallbacks = append([]string(nil), c.Fallbacks...)
	out.HybridSolvers = append([]string(nil), c.HybridSolvers...)
	return out
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New()
		validateInst.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validateInst
}

var durationType = reflect.TypeOf(time.Duration(0))

// applyEnv overwrites fields tagged with `env` when the variable is set.
func applyEnv(cfg *OptimizationConfig, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		fv := v.Field(i)
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("config: env %s=%q: %w", key, raw, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Slice:
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		fv.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}
