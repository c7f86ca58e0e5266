package gosasshost

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	c := qt.New(t)

	values := []Value{
		NewString("hello", true),
		NewNumber(Number{Value: 3.5, Numerators: []string{"px"}}),
		NewColor(NewRGBColor(10, 20, 30, 0.5)),
		NewColor(NewHSLColor(200, 50, 40, 1)),
		True,
		False,
		Null,
		NewList([]Value{NewNumber(Number{Value: 1}), NewNumber(Number{Value: 2})}, SeparatorSpace, true),
		NewMap([]MapEntry{{Key: NewString("k", true), Value: NewBool(true)}}),
		NewCompilerFunction(77),
		NewDynamicFunction(2001, "foo($a)"),
	}

	for _, v := range values {
		encoded := encodeValue(v)
		decoded, err := decodeValue(encoded)
		c.Assert(err, qt.IsNil)
		c.Assert(decoded.Equal(v), qt.Equals, true, qt.Commentf("round trip of %#v", v))
	}
}

func TestDecodeValueRejectsUnknownDiscriminant(t *testing.T) {
	c := qt.New(t)

	// kind field holds a too-large discriminant, everything else absent.
	b := appendUint32Field(nil, 1, 99)
	_, err := decodeValue(b)
	c.Assert(err, qt.ErrorAs, new(*ProtocolError))
}

func TestWireSyntaxRoundTrip(t *testing.T) {
	c := qt.New(t)

	for _, s := range []SourceSyntax{SyntaxSCSS, SyntaxIndented, SyntaxCSS} {
		c.Assert(syntaxFromWire(wireSyntax(s)), qt.Equals, s)
	}
}

func TestDiagnosticKindFromWire(t *testing.T) {
	c := qt.New(t)

	k, ok := diagnosticKindFromWire(0)
	c.Assert(ok, qt.Equals, true)
	c.Assert(k, qt.Equals, KindWarning)

	_, ok = diagnosticKindFromWire(99)
	c.Assert(ok, qt.Equals, false)
}
