package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-checkout/core/apperr"
)

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string
}

type App struct {
	URL      string
	Currency string `conf:"default:mxn"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	URL           string
}

type Clerk struct {
	WebhookSecret string `conf:"mask"`
}

type Strapi struct {
	URL     string        `conf:"default:https://cursolexia-back-production.up.railway.app"`
	Token   string        `conf:"mask"`
	Timeout time.Duration `conf:"default:10s"`
}

type Meta struct {
	PixelID     string
	AccessToken string `conf:"mask"`
	TestCode    string
	APIVersion  string        `conf:"default:v18.0"`
	URL         string        `conf:"default:https://graph.facebook.com"`
	Timeout     time.Duration `conf:"default:10s"`
}

type Ledger struct {
	Driver string        `conf:"default:memory"`
	TTL    time.Duration `conf:"default:72h"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:checkout"`
	MaxIdleConns int    `conf:"default:0"`
	MaxOpenConns int    `conf:"default:0"`
	DisableTLS   bool   `conf:"default:true"`
}

type Redis struct {
	Address  string `conf:"default:localhost:6379"`
	Password string `conf:"mask"`
	DB       int    `conf:"default:0"`
}

type RateLimit struct {
	Burst    int           `conf:"default:5"`
	Interval time.Duration `conf:"default:2s"`
	Expiry   time.Duration `conf:"default:10m"`
}

type Config struct {
	conf.Version
	Web       Web
	Cors      Cors
	App       App
	Stripe    Stripe
	Clerk     Clerk
	Strapi    Strapi
	Meta      Meta
	Ledger    Ledger
	DB        DB
	Redis     Redis
	RateLimit RateLimit
}

// Validate reports every required setting left empty.
func (c Config) Validate() error {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	check("APP_URL", c.App.URL)
	check("STRIPE_API_SECRET", c.Stripe.APISecret)
	check("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	check("CLERK_WEBHOOK_SECRET", c.Clerk.WebhookSecret)
	check("STRAPI_URL", c.Strapi.URL)

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", apperr.ErrConfigurationMissing, strings.Join(missing, ", "))
	}

	switch c.Ledger.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}
