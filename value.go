// Package gosasshost is a Go host for an embedded Sass compiler: it
// supervises an external compiler subprocess, speaks a length-prefixed
// binary protocol with it over the subprocess's stdin/stdout, and exposes
// a synchronous compile API to the embedding application.
//
// Use New (or NewFromName) to start a Supervisor and Compile/CompileFile
// to run compiles against it. Close it when done.
package gosasshost

import (
	"fmt"
	"hash/maphash"
	"math"
	"sort"
)

// Separator is the separator used between the elements of a List value.
type Separator int

const (
	SeparatorComma Separator = iota
	SeparatorSpace
	SeparatorSlash
	SeparatorUndecided
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindColor
	KindBool
	KindNull
	KindList
	KindMap
	KindCompilerFunction
	KindDynamicFunction
)

// Visitor is implemented by callers that need to traverse a Value without
// downcasting it themselves, e.g. the wire codec.
type Visitor interface {
	VisitString(text string, quoted bool)
	VisitNumber(n Number)
	VisitColor(c Color)
	VisitBool(b bool)
	VisitNull()
	VisitList(items []Value, sep Separator, bracketed bool)
	VisitMap(entries []MapEntry)
	VisitCompilerFunction(id uint32)
	VisitDynamicFunction(id uint32, signature string)
}

// Number is a Sass number: a double plus numerator/denominator unit lists.
type Number struct {
	Value        float64
	Numerators   []string
	Denominators []string
}

// IsInteger reports whether the number has an integral value.
func (n Number) IsInteger() bool {
	return n.Value == math.Trunc(n.Value)
}

// MapEntry is one key/value pair of a Map value; also how Map iteration
// yields 2-element lists.
type MapEntry struct {
	Key   Value
	Value Value
}

// colorRepr is which representation a Color currently carries as its
// source of truth; the other is derived lazily and cached.
type colorRepr int

const (
	reprRGB colorRepr = iota
	reprHSL
)

// Color holds either an RGBA or an HSLA representation. The other
// representation is derived on first request and cached. WithAlpha, the
// only modification, keeps the held representation and that cache, since
// alpha takes no part in the conversion (see DESIGN.md Open Questions).
type Color struct {
	repr colorRepr

	r, g, b uint8
	h, s, l float64
	alpha   float64

	rgbCached, hslCached bool
	rgbR, rgbG, rgbB     uint8
	hslH, hslS, hslL     float64
}

// NewRGBColor builds a Color from an RGBA quadruple.
func NewRGBColor(r, g, b uint8, alpha float64) Color {
	return Color{repr: reprRGB, r: r, g: g, b: b, alpha: alpha, rgbCached: true, rgbR: r, rgbG: g, rgbB: b}
}

// NewHSLColor builds a Color from an HSLA quadruple.
func NewHSLColor(h, s, l, alpha float64) Color {
	return Color{repr: reprHSL, h: h, s: s, l: l, alpha: alpha, hslCached: true, hslH: h, hslS: s, hslL: l}
}

// RGBA returns the canonical RGB representation, deriving it from HSL if
// that is the representation currently held.
func (c *Color) RGBA() (r, g, b uint8, alpha float64) {
	if c.repr == reprRGB {
		return c.r, c.g, c.b, c.alpha
	}
	if !c.rgbCached {
		c.rgbR, c.rgbG, c.rgbB = hslToRGB(c.h, c.s, c.l)
		c.rgbCached = true
	}
	return c.rgbR, c.rgbG, c.rgbB, c.alpha
}

// HSLA returns the canonical HSL representation, deriving it from RGB if
// that is the representation currently held.
func (c *Color) HSLA() (h, s, l, alpha float64) {
	if c.repr == reprHSL {
		return c.h, c.s, c.l, c.alpha
	}
	if !c.hslCached {
		c.hslH, c.hslS, c.hslL = rgbToHSL(c.r, c.g, c.b)
		c.hslCached = true
	}
	return c.hslH, c.hslS, c.hslL, c.alpha
}

// Representation reports which representation wire encoding should use:
// whichever the value currently carries, per spec §4.2 ("Color encoding
// uses whichever representation... the other is not sent").
func (c Color) Representation() (isRGB bool) {
	return c.repr == reprRGB
}

// WithAlpha returns a copy of c with a new alpha, preserving whichever
// representation c currently holds and its cache of the other.
func (c Color) WithAlpha(alpha float64) Color {
	c.alpha = alpha
	return c
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	s /= 100
	l /= 100
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := h / 360
	tr := hk + 1.0/3
	tg := hk
	tb := hk - 1.0/3
	r = uint8(math.Round(hueToRGB(p, q, tr) * 255))
	g = uint8(math.Round(hueToRGB(p, q, tg) * 255))
	b = uint8(math.Round(hueToRGB(p, q, tb) * 255))
	return
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func rgbToHSL(r, g, b uint8) (h, s, l float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	l = (max + min) / 2

	if max == min {
		return 0, 0, l * 100
	}

	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	switch max {
	case rf:
		h = (gf - bf) / d
		if gf < bf {
			h += 6
		}
	case gf:
		h = (bf-rf)/d + 2
	case bf:
		h = (rf-gf)/d + 4
	}
	h *= 60

	return h, s * 100, l * 100
}

// Value is an immutable, polymorphic Sass runtime value. The zero Value
// is Null.
type Value struct {
	kind Kind

	text   string
	quoted bool

	number Number

	color Color

	boolean bool

	list      []Value
	sep       Separator
	bracketed bool

	mapEntries []MapEntry

	fnID        uint32
	fnSignature string
}

// Null is the singleton null Value.
var Null = Value{kind: KindNull}

// True and False are the singleton bool Values.
var (
	True  = Value{kind: KindBool, boolean: true}
	False = Value{kind: KindBool, boolean: false}
)

// NewString builds a string Value.
func NewString(text string, quoted bool) Value {
	return Value{kind: KindString, text: text, quoted: quoted}
}

// NewNumber builds a number Value.
func NewNumber(n Number) Value {
	return Value{kind: KindNumber, number: n}
}

// NewBool builds a bool Value, returning the shared singleton.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewColor builds a color Value.
func NewColor(c Color) Value {
	return Value{kind: KindColor, color: c}
}

// NewList builds a list Value. An empty list is equal to an empty map
// under value equality (spec §3 invariant).
func NewList(items []Value, sep Separator, bracketed bool) Value {
	return Value{kind: KindList, list: items, sep: sep, bracketed: bracketed}
}

// NewMap builds a map Value. Construction with duplicate keys (by value
// equality) is a programmer error and panics, per spec §3.
func NewMap(entries []MapEntry) Value {
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if entries[i].Key.Equal(entries[j].Key) {
				panic(fmt.Sprintf("gosasshost: duplicate map key %v", entries[i].Key))
			}
		}
	}
	return Value{kind: KindMap, mapEntries: entries}
}

// NewCompilerFunction builds a reference to a compiler-assigned function id.
func NewCompilerFunction(id uint32) Value {
	return Value{kind: KindCompilerFunction, fnID: id}
}

// NewDynamicFunction builds a reference to a host-assigned dynamic
// function, identified by the id the DynamicFunctionRegistry assigned it.
func NewDynamicFunction(id uint32, signature string) Value {
	return Value{kind: KindDynamicFunction, fnID: id, fnSignature: signature}
}

// Kind reports the variant held.
func (v Value) Kind() Kind { return v.kind }

// String downcasts to (text, quoted, ok).
func (v Value) String() (text string, quoted bool, ok bool) {
	if v.kind != KindString {
		return "", false, false
	}
	return v.text, v.quoted, true
}

// AsNumber downcasts to (Number, ok).
func (v Value) AsNumber() (Number, bool) {
	if v.kind != KindNumber {
		return Number{}, false
	}
	return v.number, true
}

// AsColor downcasts to (*Color, ok). The returned pointer aliases v's
// internal state so RGBA()/HSLA() caching is visible to later calls on
// the same downcast.
func (v *Value) AsColor() (*Color, bool) {
	if v.kind != KindColor {
		return nil, false
	}
	return &v.color, true
}

// AsBool downcasts to (bool, ok).
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

// IsNull reports whether v is the null singleton.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsList downcasts to (items, separator, bracketed, ok). An empty Map
// also satisfies this as an empty list, per the equality invariant.
func (v Value) AsList() ([]Value, Separator, bool, bool) {
	if v.kind == KindList {
		return v.list, v.sep, v.bracketed, true
	}
	if v.kind == KindMap && len(v.mapEntries) == 0 {
		return nil, SeparatorComma, false, true
	}
	return nil, 0, false, false
}

// AsMap downcasts to (entries, ok). An empty List also satisfies this as
// an empty map, per the equality invariant.
func (v Value) AsMap() ([]MapEntry, bool) {
	if v.kind == KindMap {
		return v.mapEntries, true
	}
	if v.kind == KindList && len(v.list) == 0 {
		return nil, true
	}
	return nil, false
}

// AsCompilerFunction downcasts to (id, ok).
func (v Value) AsCompilerFunction() (uint32, bool) {
	if v.kind != KindCompilerFunction {
		return 0, false
	}
	return v.fnID, true
}

// AsDynamicFunction downcasts to (id, signature, ok).
func (v Value) AsDynamicFunction() (uint32, string, bool) {
	if v.kind != KindDynamicFunction {
		return 0, "", false
	}
	return v.fnID, v.fnSignature, true
}

// Accept drives a Visitor over v.
func (v Value) Accept(vis Visitor) {
	switch v.kind {
	case KindString:
		vis.VisitString(v.text, v.quoted)
	case KindNumber:
		vis.VisitNumber(v.number)
	case KindColor:
		vis.VisitColor(v.color)
	case KindBool:
		vis.VisitBool(v.boolean)
	case KindNull:
		vis.VisitNull()
	case KindList:
		vis.VisitList(v.list, v.sep, v.bracketed)
	case KindMap:
		vis.VisitMap(v.mapEntries)
	case KindCompilerFunction:
		vis.VisitCompilerFunction(v.fnID)
	case KindDynamicFunction:
		vis.VisitDynamicFunction(v.fnID, v.fnSignature)
	}
}

// Equal reports whether v and other represent the same Sass value.
//
// An empty List equals an empty Map (spec §3). Color equality compares
// canonical RGBA after conversion, so an RGB color and an equivalent HSL
// color compare equal.
func (v Value) Equal(other Value) bool {
	vList, vSep, vBracketed, vIsListLike := v.AsList()
	oList, oSep, oBracketed, oIsListLike := other.AsList()
	if vIsListLike && oIsListLike {
		if len(vList) == 0 && len(oList) == 0 {
			return true
		}
		if vSep != oSep || vBracketed != oBracketed || len(vList) != len(oList) {
			return false
		}
		for i := range vList {
			if !vList[i].Equal(oList[i]) {
				return false
			}
		}
		return true
	}

	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindString:
		return v.text == other.text && v.quoted == other.quoted
	case KindNumber:
		return numbersEqual(v.number, other.number)
	case KindColor:
		vc, oc := v.color, other.color
		r1, g1, b1, a1 := vc.RGBA()
		r2, g2, b2, a2 := oc.RGBA()
		return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
	case KindBool:
		return v.boolean == other.boolean
	case KindNull:
		return true
	case KindMap:
		return mapsEqual(v.mapEntries, other.mapEntries)
	case KindCompilerFunction:
		return v.fnID == other.fnID
	case KindDynamicFunction:
		return v.fnID == other.fnID
	}
	return false
}

func numbersEqual(a, b Number) bool {
	return a.Value == b.Value &&
		stringSlicesEqualUnordered(a.Numerators, b.Numerators) &&
		stringSlicesEqualUnordered(a.Denominators, b.Denominators)
}

func stringSlicesEqualUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	ac := append([]string(nil), a...)
	bc := append([]string(nil), b...)
	sort.Strings(ac)
	sort.Strings(bc)
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b []MapEntry) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ea := range a {
		found := false
		for j, eb := range b {
			if used[j] {
				continue
			}
			if ea.Key.Equal(eb.Key) && ea.Value.Equal(eb.Value) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Hash returns a hash consistent with Equal: equal Values always hash
// equal.
func (v Value) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	v.writeHash(&h)
	return h.Sum64()
}

var hashSeed = maphash.MakeSeed()

func (v Value) writeHash(h *maphash.Hash) {
	if list, _, _, ok := v.AsList(); ok {
		if entries, isMap := v.AsMap(); isMap && len(entries) == 0 {
			h.WriteByte(byte(KindList))
			return
		}
		h.WriteByte(byte(KindList))
		for _, item := range list {
			item.writeHash(h)
		}
		return
	}

	h.WriteByte(byte(v.kind))
	switch v.kind {
	case KindString:
		h.WriteString(v.text)
	case KindNumber:
		var buf [8]byte
		putFloat64(&buf, v.number.Value)
		h.Write(buf[:])
	case KindColor:
		r, g, b, a := v.color.RGBA()
		h.Write([]byte{r, g, b})
		var buf [8]byte
		putFloat64(&buf, a)
		h.Write(buf[:])
	case KindBool:
		if v.boolean {
			h.WriteByte(1)
		} else {
			h.WriteByte(0)
		}
	case KindMap:
		entries := append([]MapEntry(nil), v.mapEntries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Hash() < entries[j].Key.Hash() })
		for _, e := range entries {
			e.Key.writeHash(h)
			e.Value.writeHash(h)
		}
	case KindCompilerFunction, KindDynamicFunction:
		var buf [4]byte
		buf[0] = byte(v.fnID)
		buf[1] = byte(v.fnID >> 8)
		buf[2] = byte(v.fnID >> 16)
		buf[3] = byte(v.fnID >> 24)
		h.Write(buf[:])
	}
}

func putFloat64(buf *[8]byte, f float64) {
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
}
