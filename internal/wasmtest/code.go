package wasmtest

import (
	"encoding/binary"
	"math"
)

// Code builds a function body one instruction at a time. The final end
// opcode is added by Module.Bytes.
type Code struct {
	b []byte
}

func (c *Code) op(ops ...byte) *Code {
	c.b = append(c.b, ops...)
	return c
}

func (c *Code) idx(op byte, i uint32) *Code {
	c.b = appendU32(append(c.b, op), i)
	return c
}

func (c *Code) mem(op byte, align, offset uint32) *Code {
	c.b = appendU32(appendU32(append(c.b, op), align), offset)
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { return c.idx(0x20, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.idx(0x21, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.idx(0x22, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.idx(0x23, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.idx(0x24, i) }
func (c *Code) Call(fn uint32) *Code     { return c.idx(0x10, fn) }
func (c *Code) Br(depth uint32) *Code    { return c.idx(0x0c, depth) }
func (c *Code) BrIf(depth uint32) *Code  { return c.idx(0x0d, depth) }

func (c *Code) I32Const(v int32) *Code {
	c.b = appendS64(append(c.b, 0x41), int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.b = appendS64(append(c.b, 0x42), v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.b = binary.LittleEndian.AppendUint32(append(c.b, 0x43), math.Float32bits(v))
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.b = binary.LittleEndian.AppendUint64(append(c.b, 0x44), math.Float64bits(v))
	return c
}

// Block, Loop and If open an empty-typed block; IfI32 yields an i32.
func (c *Code) Block() *Code { return c.op(0x02, 0x40) }
func (c *Code) Loop() *Code  { return c.op(0x03, 0x40) }
func (c *Code) If() *Code    { return c.op(0x04, 0x40) }
func (c *Code) IfI32() *Code { return c.op(0x04, byte(I32)) }
func (c *Code) Else() *Code  { return c.op(0x05) }
func (c *Code) End() *Code   { return c.op(0x0b) }

func (c *Code) Unreachable() *Code { return c.op(0x00) }
func (c *Code) Drop() *Code        { return c.op(0x1a) }

// Loads and stores take a byte offset; alignment is the natural one.
func (c *Code) I32Load(off uint32) *Code    { return c.mem(0x28, 2, off) }
func (c *Code) I64Load(off uint32) *Code    { return c.mem(0x29, 3, off) }
func (c *Code) F32Load(off uint32) *Code    { return c.mem(0x2a, 2, off) }
func (c *Code) F64Load(off uint32) *Code    { return c.mem(0x2b, 3, off) }
func (c *Code) I32Store(off uint32) *Code   { return c.mem(0x36, 2, off) }
func (c *Code) I64Store(off uint32) *Code   { return c.mem(0x37, 3, off) }
func (c *Code) F32Store(off uint32) *Code   { return c.mem(0x38, 2, off) }
func (c *Code) F64Store(off uint32) *Code   { return c.mem(0x39, 3, off) }
func (c *Code) I32Store8(off uint32) *Code  { return c.mem(0x3a, 0, off) }
func (c *Code) I32Store16(off uint32) *Code { return c.mem(0x3b, 1, off) }

func (c *Code) I32Eqz() *Code     { return c.op(0x45) }
func (c *Code) I32GeU() *Code     { return c.op(0x4f) }
func (c *Code) I32Add() *Code     { return c.op(0x6a) }
func (c *Code) I32Sub() *Code     { return c.op(0x6b) }
func (c *Code) I32Mul() *Code     { return c.op(0x6c) }
func (c *Code) I32And() *Code     { return c.op(0x71) }
func (c *Code) I64Add() *Code     { return c.op(0x7c) }
func (c *Code) I64Mul() *Code     { return c.op(0x7e) }
func (c *Code) F32Mul() *Code     { return c.op(0x94) }
func (c *Code) F64Neg() *Code     { return c.op(0x9a) }
func (c *Code) I32WrapI64() *Code { return c.op(0xa7) }

// MemoryCopy pops dst, src and n.
func (c *Code) MemoryCopy() *Code { return c.op(0xfc, 0x0a, 0x00, 0x00) }
