package config

import (
	"embed"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	configschema "github.com/cordum/gridstore/core/infra/schema"
	"github.com/google/uuid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const inventorySchemaFile = "schema/inventory.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS

// FieldError is one problem with one key of an inventory file. Field is the
// dotted yaml path, empty for the document itself.
type FieldError struct {
	Field   string
	Message string
}

// InventoryError lists every problem found in an inventory file.
type InventoryError struct {
	Fields []FieldError
}

func (e *InventoryError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		field := f.Field
		if field == "" {
			field = "(document)"
		}
		parts = append(parts, field+": "+f.Message)
	}
	return "invalid inventory config: " + strings.Join(parts, "; ")
}

// Has reports whether field has a recorded problem.
func (e *InventoryError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// validateInventorySchema checks raw inventory yaml against the embedded
// schema and reports each failing key.
func validateInventorySchema(data []byte) error {
	schemaBytes, err := configSchemaFS.ReadFile(inventorySchemaFile)
	if err != nil {
		return fmt.Errorf("load inventory schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse inventory config: %w", err)
	}
	err = configschema.ValidateSchema("inventory-config", schemaBytes, payload)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate inventory config: %w", err)
	}
	out := &InventoryError{}
	collectLeaves(ve, out)
	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].Field < out.Fields[j].Field })
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *InventoryError) {
	if len(ve.Causes) == 0 {
		out.Fields = append(out.Fields, FieldError{Field: dotted(ve.InstanceLocation), Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

// dotted turns a JSON pointer such as /library/owner into library.owner.
func dotted(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	return strings.ReplaceAll(pointer, "/", ".")
}

// validateInventory checks the rules a schema cannot express. It runs on
// the parsed file before defaults are merged in.
func validateInventory(cfg *InventoryConfig) error {
	out := &InventoryError{}
	if cfg.FinalChunkMask != 0 && bits.OnesCount32(cfg.FinalChunkMask) != 1 {
		out.Fields = append(out.Fields, FieldError{
			Field:   "final_chunk_mask",
			Message: fmt.Sprintf("%#x must have exactly one bit set", cfg.FinalChunkMask),
		})
	}
	if cfg.Library.Owner != "" {
		if id, err := uuid.Parse(cfg.Library.Owner); err == nil && id == uuid.Nil {
			out.Fields = append(out.Fields, FieldError{Field: "library.owner", Message: "must not be the nil id"})
		}
	}
	for slot, item := range cfg.Library.DefaultItems {
		if item != "" && item == cfg.Library.DefaultAssets[slot] {
			out.Fields = append(out.Fields, FieldError{
				Field:   "library.default_items." + slot,
				Message: "item id collides with the slot's asset id",
			})
		}
	}
	if len(out.Fields) == 0 {
		return nil
	}
	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].Field < out.Fields[j].Field })
	return out
}
