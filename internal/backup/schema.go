package backup

import (
	"encoding/json"
	"reflect"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// Schema returns the JSON Schema of the backup document.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(decimal.Decimal{}) {
				// Prices are written as decimal strings; older documents use numbers.
				return &jsonschema.Schema{OneOf: []*jsonschema.Schema{
					{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`},
					{Type: "number"},
				}}
			}
			return nil
		},
	}
	s := r.Reflect(&model.BackupDocument{})
	s.Title = "Tea backup document"
	return s
}

// SchemaJSON renders Schema with two-space indentation.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
