package doctor

import (
	"context"
	"fmt"
	"os"

	"github.com/prdeck/prdeck/internal/core/config"
)

// ConfigCheck validates the loaded configuration and its host credentials.
type ConfigCheck struct {
	cfg        *config.Config
	configPath string
}

// NewConfigCheck creates a config check for the given configuration.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, configPath: configPath}
}

func (c *ConfigCheck) Name() string {
	return "Config"
}

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.cfg.ValidateDeep(c.configPath); err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "validation",
			Status: StatusFail,
			Detail: err.Error(),
		})
	} else {
		result.Items = append(result.Items, CheckItem{
			Label:  "validation",
			Status: StatusPass,
		})
	}

	if len(c.cfg.Hosts) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "hosts",
			Status: StatusWarn,
			Detail: "no hosts configured",
		})
		return result
	}

	for name, h := range c.cfg.Hosts {
		item := CheckItem{
			Label:  fmt.Sprintf("host %s", name),
			Status: StatusPass,
			Detail: string(h.Kind),
		}
		if h.TokenEnv != "" && os.Getenv(h.TokenEnv) == "" {
			item.Status = StatusWarn
			item.Detail = fmt.Sprintf("token env var %s is not set", h.TokenEnv)
		}
		result.Items = append(result.Items, item)
	}

	return result
}
