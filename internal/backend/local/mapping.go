package local

import (
	"fmt"
	"maps"
	"slices"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// buildIndexMapping translates a schema mapping into a bleve index mapping.
// Fields outside the mapping are indexed dynamically.
func buildIndexMapping(m schema.Mapping) *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	im.DefaultMapping = buildDocumentMapping(m.Properties)
	return im
}

func buildDocumentMapping(props map[string]schema.FieldSpec) *mapping.DocumentMapping {
	dm := bleve.NewDocumentMapping()
	for _, name := range slices.Sorted(maps.Keys(props)) {
		spec := props[name]
		if spec.Kind() == schema.KindObject {
			dm.AddSubDocumentMapping(name, buildDocumentMapping(spec.Properties))
			continue
		}
		dm.AddFieldMappingsAt(name, buildFieldMapping(spec))
	}
	return dm
}

func buildFieldMapping(spec schema.FieldSpec) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch spec.Type {
	case schema.TypeText:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
	case schema.TypeDate:
		fm = bleve.NewDateTimeFieldMapping()
	case "boolean":
		fm = bleve.NewBooleanFieldMapping()
	case "long", "integer", "short", "byte", "double", "float", "half_float", "scaled_float", "unsigned_long":
		fm = bleve.NewNumericFieldMapping()
	case "geo_point":
		fm = bleve.NewGeoPointFieldMapping()
	default:
		// keyword and every type bleve has no counterpart for (ip, binary, ...)
		fm = bleve.NewKeywordFieldMapping()
	}
	// Sorting needs doc values; fielddata re-enables them on full-text fields.
	fm.DocValues = spec.HasDocValues() || (spec.Fielddata != nil && *spec.Fielddata)
	fm.Store = false
	return fm
}

// mergeMapping adds next to current. Changing the type of an existing field is
// a conflict; new fields and new sub-fields are accepted.
func mergeMapping(current, next schema.Mapping) (schema.Mapping, error) {
	if err := checkConflicts("", current.Properties, next.Properties); err != nil {
		return schema.Mapping{}, err
	}
	return current.Merge(next), nil
}

func checkConflicts(prefix string, current, next map[string]schema.FieldSpec) error {
	for name, spec := range next {
		existing, ok := current[name]
		if !ok {
			continue
		}
		path := prefix + name
		if existing.Kind() == schema.KindObject && spec.Kind() == schema.KindObject {
			if err := checkConflicts(path+".", existing.Properties, spec.Properties); err != nil {
				return err
			}
			continue
		}
		if existing.Type != spec.Type {
			return fmt.Errorf("%w: field %q is %s, cannot change to %s",
				store.ErrMappingConflict, path, existing.Type, spec.Type)
		}
	}
	return nil
}
