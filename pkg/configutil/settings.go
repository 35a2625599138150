package configutil

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings fills out from a settings map. Decoding is weakly typed
// ("30" becomes 30) because viper hands numbers through env expansion as
// strings. Also used for action step parameters from the planner.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}
