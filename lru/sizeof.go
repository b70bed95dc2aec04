package lru

import "reflect"

// maxSizeDepth bounds how far EstimateSize follows references, which also
// keeps it finite on cyclic values.
const maxSizeDepth = 16

// EstimateSize returns a rough number of bytes held by v: its own size plus
// whatever it references through strings, slices, maps and pointers.
// Nil values and empty strings count as zero. The result is advisory and
// only feeds memory metrics.
func EstimateSize(v any) int64 {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok && s == "" {
		return 0
	}
	return sizeOf(reflect.ValueOf(v), 0)
}

func sizeOf(v reflect.Value, depth int) int64 {
	if !v.IsValid() {
		return 0
	}
	size := int64(v.Type().Size())
	if depth >= maxSizeDepth {
		return size
	}
	return size + referencedSize(v, depth)
}

// referencedSize is the part of v's footprint outside its own header.
func referencedSize(v reflect.Value, depth int) int64 {
	switch v.Kind() {
	case reflect.String:
		return int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		elem := v.Type().Elem()
		total := int64(v.Cap()) * int64(elem.Size())
		if isFlat(elem) {
			return total
		}
		for i := 0; i < v.Len(); i++ {
			total += referencedSize(v.Index(i), depth+1)
		}
		return total

	case reflect.Array:
		if isFlat(v.Type().Elem()) {
			return 0
		}
		var total int64
		for i := 0; i < v.Len(); i++ {
			total += referencedSize(v.Index(i), depth+1)
		}
		return total

	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		var total int64
		iter := v.MapRange()
		for iter.Next() {
			total += sizeOf(iter.Key(), depth+1) + sizeOf(iter.Value(), depth+1)
		}
		return total

	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return sizeOf(v.Elem(), depth+1)

	case reflect.Struct:
		var total int64
		for i := 0; i < v.NumField(); i++ {
			total += referencedSize(v.Field(i), depth+1)
		}
		return total
	}
	return 0
}

// isFlat reports whether values of t hold no references.
func isFlat(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isFlat(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isFlat(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}
