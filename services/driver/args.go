package driver

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// DecodeArgs decodes the arguments of a command into out, a pointer to a struct with json tags.
// Numbers arrive as float64 over the wire and are converted to the field types.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}
	return nil
}

// SideArgs selects one MCU of a driver hosting two.
type SideArgs struct {
	Side string `json:"side"`
}

// DrawArgs are the arguments of lcd_draw.
type DrawArgs struct {
	Side string `json:"side"`
	Val  string `json:"val"`
}

// ResetTargetArgs are the arguments of reset_target.
type ResetTargetArgs struct {
	Address *int `json:"address"`
}
