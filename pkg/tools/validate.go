package tools

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateArgs checks args against the input schema of def. The returned error
// lists every violation.
func ValidateArgs(def Definition, args map[string]any) error {
	if len(def.InputSchema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(def.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return errors.Wrapf(err, "could not validate arguments of %s", def.Name)
	}
	if result.Valid() {
		return nil
	}

	descriptions := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return errors.Errorf("invalid arguments for %s: %s", def.Name, strings.Join(descriptions, "; "))
}
