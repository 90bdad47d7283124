package config

import (
	"time"

	"github.com/jessevdk/go-flags"
)

// Config is the process configuration. Every option can be set through the
// environment; command line flags win over it.
type Config struct {
	HTTPAddr    string `long:"http-addr" env:"HTTP_ADDR" default:":8080" description:"address the HTTP API listens on"`
	PostgresURL string `long:"postgres-url" env:"POSTGRES_URL" required:"true" description:"Postgres connection string"`
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" required:"true" description:"Redis address or redis:// URL"`

	GatewayURL       string        `long:"gateway-url" env:"GATEWAY_URL" required:"true" description:"card payment gateway base URL"`
	GatewaySecret    string        `long:"gateway-secret" env:"GATEWAY_SECRET" required:"true" description:"shared secret used to sign gateway callbacks"`
	GatewayTimeout   time.Duration `long:"gateway-timeout" env:"GATEWAY_TIMEOUT" default:"10s" description:"timeout of a single gateway call"`
	PaymentReturnURL string        `long:"payment-return-url" env:"PAYMENT_RETURN_URL" required:"true" description:"where the gateway sends the payer back to"`
	NotificationsURL string        `long:"notifications-url" env:"NOTIFICATIONS_URL" required:"true" description:"notifications API base URL"`

	JaegerEndpoint  string `long:"jaeger-endpoint" env:"JAEGER_ENDPOINT" description:"jaeger collector endpoint, tracing is disabled when empty"`
	SettingsFile    string `long:"settings" env:"SETTINGS_FILE" default:"settings.yaml" description:"path to the ball settings file"`
	HeaderAuthToken string `long:"header-auth-token" env:"HEADER_AUTH_TOKEN" description:"token the fronting proxy sends along with the actor headers"`

	SweepEnabled   bool          `long:"sweep" env:"SWEEP_ENABLED" description:"run the expiry and waiting list sweeps in this process"`
	FastSweepEvery time.Duration `long:"fast-sweep-every" env:"FAST_SWEEP_EVERY" default:"5m" description:"interval of the expiry sweep"`
	SlowSweepEvery time.Duration `long:"slow-sweep-every" env:"SLOW_SWEEP_EVERY" default:"20m" description:"interval of the waiting list sweep"`
}

// Load parses args (without the program name) together with the environment.
func Load(args []string) (Config, error) {
	var cfg Config

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
