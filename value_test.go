package gosasshost

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestValueEqualEmptyListAndMap(t *testing.T) {
	c := qt.New(t)

	emptyList := NewList(nil, SeparatorComma, false)
	emptyMap := NewMap(nil)
	c.Assert(emptyList.Equal(emptyMap), qt.Equals, true)
	c.Assert(emptyMap.Equal(emptyList), qt.Equals, true)
}

func TestValueEqualNonEmptyListNotEqualMap(t *testing.T) {
	c := qt.New(t)

	list := NewList([]Value{NewString("a", true)}, SeparatorComma, false)
	m := NewMap([]MapEntry{{Key: NewNumber(Number{Value: 1}), Value: NewString("a", true)}})
	c.Assert(list.Equal(m), qt.Equals, false)
}

func TestNewMapPanicsOnDuplicateKey(t *testing.T) {
	c := qt.New(t)

	c.Assert(func() {
		NewMap([]MapEntry{
			{Key: NewString("k", true), Value: NewNumber(Number{Value: 1})},
			{Key: NewString("k", true), Value: NewNumber(Number{Value: 2})},
		})
	}, qt.PanicMatches, `gosasshost: duplicate map key .*`)
}

func TestColorRGBToHSLConversion(t *testing.T) {
	c := qt.New(t)

	col := NewRGBColor(255, 0, 0, 1)
	h, s, l, a := col.HSLA()
	c.Assert(h, qt.Equals, 0.0)
	c.Assert(s, qt.Equals, 100.0)
	c.Assert(l, qt.Equals, 50.0)
	c.Assert(a, qt.Equals, 1.0)
}

func TestColorHSLToRGBConversion(t *testing.T) {
	c := qt.New(t)

	col := NewHSLColor(120, 100, 50, 1)
	r, g, b, _ := col.RGBA()
	c.Assert(r, qt.Equals, uint8(0))
	c.Assert(g, qt.Equals, uint8(255))
	c.Assert(b, qt.Equals, uint8(0))
}

func TestColorRepresentationIsPreservedUntilQueried(t *testing.T) {
	c := qt.New(t)

	col := NewRGBColor(10, 20, 30, 1)
	c.Assert(col.Representation(), qt.Equals, true)

	withAlpha := col.WithAlpha(0.5)
	c.Assert(withAlpha.Representation(), qt.Equals, true)
	r, g, b, a := withAlpha.RGBA()
	c.Assert([]uint8{r, g, b}, qt.DeepEquals, []uint8{10, 20, 30})
	c.Assert(a, qt.Equals, 0.5)
}

func TestColorEqualityAcrossRepresentations(t *testing.T) {
	c := qt.New(t)

	rgb := NewColor(NewRGBColor(255, 0, 0, 1))
	hsl := NewColor(NewHSLColor(0, 100, 50, 1))
	c.Assert(rgb.Equal(hsl), qt.Equals, true)
}

func TestValueHashConsistentWithEqual(t *testing.T) {
	c := qt.New(t)

	a := NewMap([]MapEntry{
		{Key: NewString("x", true), Value: NewNumber(Number{Value: 1})},
		{Key: NewString("y", true), Value: NewNumber(Number{Value: 2})},
	})
	b := NewMap([]MapEntry{
		{Key: NewString("y", true), Value: NewNumber(Number{Value: 2})},
		{Key: NewString("x", true), Value: NewNumber(Number{Value: 1})},
	})
	c.Assert(a.Equal(b), qt.Equals, true)
	c.Assert(a.Hash(), qt.Equals, b.Hash())
}

func TestNumberIsInteger(t *testing.T) {
	c := qt.New(t)

	c.Assert(Number{Value: 4}.IsInteger(), qt.Equals, true)
	c.Assert(Number{Value: 4.5}.IsInteger(), qt.Equals, false)
}
