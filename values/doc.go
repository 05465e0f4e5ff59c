// Package values implements the Futhark binary data format, version 2.
//
// A value is laid out as
//
//	'b' | version (2) | rank | 4-byte type tag | rank x i64 dims | data
//
// with every multi-byte field little-endian and data in row-major order.
// Leading spaces, tabs and newlines before a value are skipped, so several
// values can be concatenated in one stream:
//
//	r := values.NewReader(input)
//	img, err := r.ReadValue("[][]f32")
//	n, err := r.ReadValue("i64")
//
//	out, err := values.Encode("[]i32", []int32{1, 2, 3})
package values
