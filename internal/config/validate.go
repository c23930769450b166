package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if m, err := decimal.NewFromString(c.Trading.PayoutMultiplier); err != nil || !m.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trading.payout_multiplier must be a number > 1, got %q", c.Trading.PayoutMultiplier)
	}

	if c.Storage.Driver == "postgres" {
		if err := c.Storage.Postgres.validate("storage.postgres"); err != nil {
			return err
		}
	}

	if c.Relay.Enabled {
		if c.Relay.Addr == "" {
			return errors.New("relay.addr is required when relay is enabled")
		}
		if c.Relay.Channel == "" {
			return errors.New("relay.channel is required when relay is enabled")
		}
	}

	if c.Audit.Enabled {
		if len(c.Audit.Brokers) == 0 {
			return errors.New("audit.brokers is required when audit is enabled")
		}
		if c.Audit.Topic == "" {
			return errors.New("audit.topic is required when audit is enabled")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
