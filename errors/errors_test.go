package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseMarshal,
				Kind:    KindArgumentType,
				Path:    []string{"main", "arg0"},
				GoType:  "*runtime.Array",
				FutType: "[]f32",
				Detail:  "wrong array type",
			},
			contains: []string{"[marshal]", "argument_type", "main.arg0", "*runtime.Array", "[]f32", "wrong array type"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfData,
			},
			contains: []string{"[decode]", "out_of_data"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindForeignCall,
				Detail: "futhark_entry_main returned 1",
				Cause:  errors.New("wasm trap"),
			},
			contains: []string{"[call]", "foreign_call", "futhark_entry_main", "caused by", "wasm trap"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCall,
		Kind:  KindForeignCall,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseDecode, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}

	if err.Is(&Error{Phase: PhaseEncode, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}

	if err.Is(&Error{Phase: PhaseDecode, Kind: KindOutOfData}) {
		t.Error("Is should not match different kind")
	}

	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrFormat) {
		t.Error("errors.Is should not match another kind sentinel")
	}
}

func TestKindSentinels_ThroughWrapping(t *testing.T) {
	inner := UseAfterFree(PhaseArray, "[]i32", "values")
	outer := Wrap(PhaseMarshal, KindArgumentType, inner, "argument 0")

	if !errors.Is(outer, ErrUseAfterFree) {
		t.Error("sentinel should match through the cause chain")
	}
	if !errors.Is(outer, ErrArgumentType) {
		t.Error("sentinel should match the outer kind")
	}

	var fe *Error
	if !errors.As(outer, &fe) || fe.Kind != KindArgumentType {
		t.Errorf("errors.As got %v", fe)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMarshal, KindArgumentType).
		Path("render", "w").
		GoType("string").
		FutType("i32").
		Value("x").
		Cause(cause).
		Detail("expected %s, got %s", "i32", "string").
		Build()

	if err.Phase != PhaseMarshal {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMarshal)
	}
	if err.Kind != KindArgumentType {
		t.Errorf("Kind = %v, want %v", err.Kind, KindArgumentType)
	}
	if len(err.Path) != 2 || err.Path[0] != "render" || err.Path[1] != "w" {
		t.Errorf("Path = %v, want [render w]", err.Path)
	}
	if err.GoType != "string" {
		t.Errorf("GoType = %v, want 'string'", err.GoType)
	}
	if err.FutType != "i32" {
		t.Errorf("FutType = %v, want 'i32'", err.FutType)
	}
	if err.Value != "x" {
		t.Errorf("Value = %v, want x", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got string" {
		t.Errorf("Detail = %v, want 'expected i32, got string'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("BadMarker", func(t *testing.T) {
		err := BadMarker('x')
		if err.Kind != KindFormat || err.Phase != PhaseDecode {
			t.Errorf("got %v/%v", err.Phase, err.Kind)
		}
		if !strings.Contains(err.Detail, "0x78") {
			t.Errorf("Detail = %v, should contain byte", err.Detail)
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		err := UnsupportedVersion(1, 2)
		if err.Kind != KindVersion {
			t.Errorf("Kind = %v, want %v", err.Kind, KindVersion)
		}
		if !strings.Contains(err.Detail, "version 2") {
			t.Errorf("Detail = %v", err.Detail)
		}
	})

	t.Run("UnexpectedType", func(t *testing.T) {
		err := UnexpectedType(0, "u32", "f32")
		if err.Kind != KindTypeMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
		}
		if !strings.Contains(err.Error(), "u32") || !strings.Contains(err.Error(), "f32") {
			t.Errorf("message should name both types: %v", err)
		}
	})

	t.Run("OutOfData", func(t *testing.T) {
		err := OutOfData(PhaseDecode, "payload", 24, 16)
		if err.Kind != KindOutOfData {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfData)
		}
		if !strings.Contains(err.Detail, "24") || !strings.Contains(err.Detail, "16") {
			t.Errorf("Detail = %v", err.Detail)
		}
	})

	t.Run("Arity", func(t *testing.T) {
		err := Arity("main", 2, 3)
		if err.Kind != KindArity {
			t.Errorf("Kind = %v, want %v", err.Kind, KindArity)
		}
		if len(err.Path) != 1 || err.Path[0] != "main" {
			t.Errorf("Path = %v", err.Path)
		}
	})

	t.Run("ForeignCall", func(t *testing.T) {
		err := ForeignCall("futhark_entry_main", 2, "out of memory\n", nil)
		if err.Kind != KindForeignCall {
			t.Errorf("Kind = %v, want %v", err.Kind, KindForeignCall)
		}
		if err.Value != int32(2) {
			t.Errorf("Value = %v, want 2", err.Value)
		}
		if strings.HasSuffix(err.Detail, "\n") {
			t.Errorf("Detail should be trimmed: %q", err.Detail)
		}
	})

	t.Run("Schema", func(t *testing.T) {
		err := Schema([]string{"types", "[]u32"}, "unknown elemtype %q", "u128")
		if err.Kind != KindSchema || err.Phase != PhaseManifest {
			t.Errorf("got %v/%v", err.Phase, err.Kind)
		}
		if !strings.Contains(err.Error(), "types.[]u32") {
			t.Errorf("message should carry path: %v", err)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseArray, 1024, errors.New("oom"))
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseArray, []string{"index"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseContext, "context")
		if err.Kind != KindClosed {
			t.Errorf("Kind = %v, want %v", err.Kind, KindClosed)
		}
	})
}

func TestMissingExportsError(t *testing.T) {
	t.Run("grouped by owner", func(t *testing.T) {
		err := NewMissingExportsError(map[string][]string{
			"[]u32":  {"futhark_new_u32_1d", "futhark_values_u32_1d"},
			"render": {"futhark_entry_render"},
		})

		msg := err.Error()
		if !strings.Contains(msg, "3 export(s)") {
			t.Errorf("message should count exports: %q", msg)
		}
		if strings.Index(msg, "[]u32") > strings.Index(msg, "render") {
			t.Errorf("owners should be sorted: %q", msg)
		}
		if !strings.Contains(msg, "    - futhark_values_u32_1d") {
			t.Errorf("message should list symbols: %q", msg)
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := NewMissingExportsError(nil)
		if !strings.Contains(err.Error(), "no exports specified") {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("Is", func(t *testing.T) {
		var err error = NewMissingExportsError(map[string][]string{"x": {"y"}})
		if !errors.Is(err, &MissingExportsError{}) {
			t.Error("should match own type")
		}
		if !errors.Is(err, &Error{Kind: KindMissingExport}) {
			t.Error("should match missing_export kind")
		}
	})
}
