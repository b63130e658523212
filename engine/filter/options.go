package filter

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xhit/go-str2duration/v2"

	"github.com/squidspace/sqs/engine/core"
)

// durationHook accepts extended duration strings such as "2d" or "1w3h".
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok || s == "" {
		return time.Duration(0), nil
	}
	return str2duration.ParseDuration(s)
}

// DecodeOptions decodes a stage's option map into T using `option` struct tags.
// Unknown keys are rejected so typos surface as configuration errors.
func DecodeOptions[T any](opts map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "option",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(durationHook),
	})
	if err != nil {
		return out, core.NewError(fmt.Errorf("failed to create decoder: %w", err), core.CodeInternal, nil)
	}
	if opts == nil {
		return out, nil
	}
	if err := decoder.Decode(opts); err != nil {
		return out, core.NewError(fmt.Errorf("invalid filter options: %w", err), core.CodeInvalidArgument, nil)
	}
	return out, nil
}

// ParseChain converts a decoded configuration value (a list of
// {filter, options} maps) into a Chain. A nil value is the identity chain.
func ParseChain(raw any) (Chain, error) {
	if raw == nil {
		return nil, nil
	}
	var chain Chain
	if err := mapstructure.Decode(raw, &chain); err != nil {
		return nil, core.NewError(fmt.Errorf("invalid filter chain: %w", err), core.CodeInvalidArgument, nil)
	}
	for i, spec := range chain {
		if spec.Name == "" {
			return nil, core.NewError(
				errors.New("filter declaration is missing its name"),
				core.CodeInvalidArgument,
				map[string]any{"stage": i},
			)
		}
	}
	return chain, nil
}
