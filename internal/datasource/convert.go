// internal/datasource/convert.go - Column value conversion
package datasource

import (
	"time"

	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

// attrValue converts a scanned SQL value into an encodable attribute
// value. Unknown types report ok=false and the column is omitted.
func attrValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, true
	case []byte:
		return string(val), true
	case int64:
		return val, true
	case int32:
		return int64(val), true
	case int:
		return int64(val), true
	case float64:
		return val, true
	case float32:
		return val, true
	case bool:
		return val, true
	case time.Time:
		return val.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

// extractFid moves the configured fid attribute into the feature id.
// Only unsigned integer values qualify; the attribute is removed from
// the tag list when (and only when) the id was emitted.
func extractFid(layer *tileset.Layer, f *mvt.Feature) {
	if layer.FidField == "" {
		return
	}
	for i, attr := range f.Attributes {
		if attr.Key != layer.FidField {
			continue
		}
		var id uint64
		switch v := attr.Value.(type) {
		case uint64:
			id = v
		case int64:
			if v < 0 {
				return // negative ids are unrepresentable, keep the attribute
			}
			id = uint64(v)
		default:
			return
		}
		f.ID = &id
		f.Attributes = append(f.Attributes[:i], f.Attributes[i+1:]...)
		return
	}
}
