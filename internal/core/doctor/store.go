package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prdeck/prdeck/internal/store/badgerkv"
)

// StoreCheck verifies the data directory is usable and the cache store opens.
type StoreCheck struct {
	dataDir string
}

// NewStoreCheck creates a store check rooted at the given data directory.
func NewStoreCheck(dataDir string) *StoreCheck {
	return &StoreCheck{dataDir: dataDir}
}

func (c *StoreCheck) Name() string {
	return "Store"
}

func (c *StoreCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	info, err := os.Stat(c.dataDir)
	switch {
	case os.IsNotExist(err):
		result.Items = append(result.Items, CheckItem{
			Label:  "data dir",
			Status: StatusWarn,
			Detail: "does not exist yet (created on first use)",
		})
		return result
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  "data dir",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	case !info.IsDir():
		result.Items = append(result.Items, CheckItem{
			Label:  "data dir",
			Status: StatusFail,
			Detail: "exists but is not a directory",
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "data dir",
		Status: StatusPass,
		Detail: c.dataDir,
	})

	store, err := badgerkv.Open(filepath.Join(c.dataDir, "store"))
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "cache store",
			Status: StatusFail,
			Detail: fmt.Sprintf("open: %v", err),
		})
		return result
	}
	defer store.Close()

	keys, err := store.ListKeys(ctx, "")
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "cache store",
			Status: StatusFail,
			Detail: fmt.Sprintf("list keys: %v", err),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "cache store",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d key(s)", len(keys)),
	})

	return result
}
