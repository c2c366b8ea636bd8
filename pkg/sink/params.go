package sink

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeParams decodes the driver-specific params map into out.
// Unknown keys are rejected so typos in stridesync.yaml surface early.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid sink params: %w", err)
	}
	return nil
}
