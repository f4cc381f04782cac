package purchase

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/pkg/errcodes"
)

// checkContract catches configurations no race can be run for. They abort
// the current run only.
func checkContract(v *validator.Validate, cfg entity.PurchaseConfiguration) error {
	if err := v.Struct(cfg); err != nil {
		return domain.WrapError(err, errcodes.InvalidConfiguration, fmt.Sprintf("configuration %s is malformed", cfg.ID))
	}

	if !cfg.MaxPrice.IsPositive() {
		return domain.NewError(errcodes.InvalidConfiguration, fmt.Sprintf("configuration %s has no price ceiling", cfg.ID))
	}

	if cfg.WindowStart != nil && cfg.WindowEnd != nil && cfg.WindowEnd.Before(*cfg.WindowStart) {
		return domain.NewError(errcodes.InvalidConfiguration, fmt.Sprintf("configuration %s window ends before it starts", cfg.ID))
	}

	return nil
}

func checkToken(v *validator.Validate, token entity.ReplayToken) error {
	if err := v.Struct(token); err != nil {
		return domain.WrapError(err, errcodes.InvalidReplayToken, "replay token is malformed")
	}
	return nil
}
