// Package prim is the registry of Futhark primitive element types.
//
// Each ElemType knows its byte width, its 4-byte tag in the binary data
// format, the wasm value class it is passed as, and its Go host
// representation: a scalar (int32, float16.Float16, bool, ...) and a flat
// buffer ([]int32, []float16.Float16, []bool, ...).
//
//	t, ok := prim.Parse("f32")
//	buf := t.View(raw, n)     // []float32 over raw when aligned
//	img, err := t.Bytes(buf)  // little-endian image
package prim
