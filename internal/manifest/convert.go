package manifest

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// Converter decodes bound port values into Go handler input structs and
// converts handler results back into cty values.
type Converter struct{}

// NewConverter creates a new converter.
func NewConverter() *Converter {
	return &Converter{}
}

// DecodeInputs populates the provided Go struct from the bound port values,
// applying manifest defaults for absent optional inputs. Struct fields are
// matched by their `mb` tag, falling back to the field name.
func (c *Converter) DecodeInputs(
	ctx context.Context,
	inputStruct any,
	values map[string]cty.Value,
	defs map[string]*Input,
) error {
	logger := ctxlog.FromContext(ctx)

	structVal := reflect.ValueOf(inputStruct)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() {
		return fmt.Errorf("inputStruct must be a non-nil pointer")
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		fieldVal := structVal.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		lookupName := field.Name
		if tag := field.Tag.Get("mb"); tag != "" {
			lookupName = strings.Split(tag, ",")[0]
		}

		def, defExists := defs[lookupName]
		targetPtr := fieldVal.Addr().Interface()

		if val, provided := values[lookupName]; provided {
			if err := c.decode(ctx, val, targetPtr); err != nil {
				return fmt.Errorf("failed to decode input '%s': %w", lookupName, err)
			}
			continue
		}

		if !defExists {
			continue
		}
		if def.Default == nil && !def.Optional {
			return fmt.Errorf("missing required input %q", lookupName)
		}
		if def.Default != nil {
			if err := c.decode(ctx, *def.Default, targetPtr); err != nil {
				return fmt.Errorf("failed to apply default for '%s': %w", lookupName, err)
			}
		}
	}
	logger.Debug("Decoded handler inputs.", "type", structType.String())
	return nil
}

// decode handles the conversion and decoding of a cty.Value into a Go pointer.
func (c *Converter) decode(ctx context.Context, val cty.Value, goVal any) error {
	logger := ctxlog.FromContext(ctx)
	valPtr := reflect.ValueOf(goVal)
	if valPtr.Kind() != reflect.Ptr {
		return fmt.Errorf("target for decoding must be a pointer, got %T", goVal)
	}

	impliedType, err := gocty.ImpliedType(valPtr.Elem().Interface())
	if err != nil {
		logger.Debug("Could not imply cty.Type from Go type, attempting direct decoding.",
			"go_type", valPtr.Elem().Type().String(), "error", err)
		return gocty.FromCtyValue(val, goVal)
	}

	convertedVal, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w",
			val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	return gocty.FromCtyValue(convertedVal, goVal)
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}
