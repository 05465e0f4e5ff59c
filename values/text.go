package values

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"github.com/wippyai/futhark-host/prim"
)

// Format renders v in Futhark's textual value syntax, e.g. "[[1i32, 2i32]]",
// "true" or "empty([0]f32)".
func Format(v Value) string {
	if v.Rank() == 0 {
		return FormatScalar(v.Elem, v.Data)
	}
	if v.Len() == 0 {
		var b strings.Builder
		b.WriteString("empty(")
		for _, d := range v.Shape {
			fmt.Fprintf(&b, "[%d]", d)
		}
		b.WriteString(v.Elem.String())
		b.WriteByte(')')
		return b.String()
	}

	var b strings.Builder
	formatDim(&b, v, 0, 0)
	return b.String()
}

func formatDim(b *strings.Builder, v Value, dim, offset int) int {
	if dim == v.Rank() {
		b.WriteString(FormatScalar(v.Elem, v.Elem.Scalar(v.Data, offset)))
		return offset + 1
	}
	b.WriteByte('[')
	for i := int64(0); i < v.Shape[dim]; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		offset = formatDim(b, v, dim+1, offset)
	}
	b.WriteByte(']')
	return offset
}

// FormatScalar renders one scalar with its type suffix.
func FormatScalar(elem prim.ElemType, s any) string {
	switch x := s.(type) {
	case bool:
		return strconv.FormatBool(x)
	case float16.Float16:
		return formatFloat(elem, float64(x.Float32()), 32)
	case float32:
		return formatFloat(elem, float64(x), 32)
	case float64:
		return formatFloat(elem, x, 64)
	default:
		return fmt.Sprintf("%v%s", x, elem)
	}
}

func formatFloat(elem prim.ElemType, f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return elem.String() + ".nan"
	case math.IsInf(f, 1):
		return elem.String() + ".inf"
	case math.IsInf(f, -1):
		return "-" + elem.String() + ".inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s + elem.String()
}
