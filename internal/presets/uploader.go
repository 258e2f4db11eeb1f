package presets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/show"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// Upload pushes every *.json preset file in dir to a controller. The slot a
// preset is saved under comes from its "psave" field when present,
// otherwise from the file's position in sorted order (slot 1 upwards).
func Upload(ctx context.Context, client *wled.Client, ctrl *show.Controller, dir string) error {
	if ctrl.Type != show.ControllerTypeWLED {
		return fmt.Errorf("controller %q is not a wled device", ctrl.ID)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no preset files in %s", dir)
	}
	sort.Strings(files)

	for i, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		var preset map[string]any
		if err := json.Unmarshal(data, &preset); err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}

		slot := i + 1
		if v, ok := preset["psave"].(float64); ok {
			slot = int(v)
		}

		if err := uploadToAnyEndpoint(ctx, client, ctrl, preset, slot); err != nil {
			return fmt.Errorf("upload %s to %q: %w", filepath.Base(file), ctrl.ID, err)
		}
		log.Info().
			Str("controller", string(ctrl.ID)).
			Str("file", filepath.Base(file)).
			Int("slot", slot).
			Msg("Preset uploaded")
	}
	return nil
}

func uploadToAnyEndpoint(ctx context.Context, client *wled.Client, ctrl *show.Controller, preset map[string]any, slot int) error {
	var lastErr error
	for _, url := range ctrl.URLs {
		lastErr = client.UploadPreset(ctx, url, preset, slot)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
