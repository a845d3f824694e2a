package tradingcfg

import "github.com/bytedance/sonic"

// Optional distinguishes an absent JSON field (leave unchanged) from an
// explicit null (clear) and from a value (replace).
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{Set: true, Null: true} }

// UnmarshalJSON is only called for fields present in the document.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Null = true
		return nil
	}
	return sonic.Unmarshal(data, &o.Value)
}

// MarshalJSON renders a cleared or absent field as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return sonic.Marshal(o.Value)
}

// apply merges o into the pointer field *dst.
func (o Optional[T]) apply(dst **T) {
	switch {
	case !o.Set:
	case o.Null:
		*dst = nil
	default:
		v := o.Value
		*dst = &v
	}
}
