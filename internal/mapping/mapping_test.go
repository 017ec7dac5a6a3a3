package mapping

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/models"
)

func TestRemapIsProjection(t *testing.T) {
	m := FieldMapping{"a": "x", "b": "y"}
	got := Remap(models.RawRecord{"a": "1", "b": "2", "c": "3"}, m)

	assert.Equal(t, models.RawRecord{"x": "1", "y": "2"}, got)
}

func TestRemapPassThrough(t *testing.T) {
	raw := models.RawRecord{"sku": "A", "qty": "1"}
	assert.Equal(t, raw, Remap(raw, nil))
	assert.Equal(t, raw, Remap(raw, FieldMapping{}))
}

func TestRemapMissingSourceColumn(t *testing.T) {
	got := Remap(models.RawRecord{"a": "1"}, FieldMapping{"a": "x", "b": "y"})
	assert.Equal(t, models.RawRecord{"x": "1"}, got)
}

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping(`{" Item Code ": "sku", "Qty": "quantity", "Notes": ""}`)
	require.NoError(t, err)
	assert.Equal(t, FieldMapping{"item code": "sku", "qty": "quantity"}, m)

	m, err = ParseMapping("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = ParseMapping("{}")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestParseMappingRejectsInvalid(t *testing.T) {
	_, err := ParseMapping(`["sku"]`)
	assert.Error(t, err)

	_, err = ParseMapping(`{"a": "sku", "b": "sku"}`)
	assert.Error(t, err)
}

func TestValidateTargets(t *testing.T) {
	m := FieldMapping{"item": "sku"}
	assert.NoError(t, m.Validate([]string{"sku", "name"}))

	m = FieldMapping{"item": "serial"}
	assert.Error(t, m.Validate([]string{"sku", "name"}))
}

func TestProperty_RemapKeysAreMappedTargets(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("remapped keys are a subset of mapping targets", prop.ForAll(
		func(keys []string, values []string) bool {
			raw := models.RawRecord{}
			for i, k := range keys {
				if i < len(values) {
					raw[k] = values[i]
				}
			}
			m := FieldMapping{}
			for i, k := range keys {
				if i%2 == 0 {
					m[k] = "field_" + k
				}
			}

			out := Remap(raw, m)
			if len(m) == 0 {
				return len(out) == len(raw)
			}
			targets := map[string]bool{}
			for _, target := range m {
				targets[target] = true
			}
			for k, v := range out {
				if !targets[k] {
					return false
				}
				source := k[len("field_"):]
				if raw[source] != v {
					return false
				}
			}
			return len(out) <= len(m)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
