package gosasshost

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// This file hand-declares the wire messages of spec.md §6 and
// (de)serializes them with google.golang.org/protobuf/encoding/protowire
// directly, field by field, rather than against generated .pb.go code —
// see DESIGN.md's Protocol codec entry for why: the retrieval pack
// carries no generated code for this protocol, and protowire is the
// public, stable, low-level API the protobuf-go project ships for
// exactly this situation.

// forEachField walks the top-level fields of a protobuf-wire-encoded
// message, invoking fn with each field's number, wire type, and its
// still-wire-encoded value bytes (the varint/fixed64/fixed32 bytes as
// consumed, or the inner payload for a length-delimited field).
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wrapProtocolError("malformed field tag", protowire.ParseError(n))
		}
		b = b[n:]

		var payload []byte
		var consumed int
		switch typ {
		case protowire.VarintType:
			_, vn := protowire.ConsumeVarint(b)
			if vn < 0 {
				return wrapProtocolError("malformed varint field", protowire.ParseError(vn))
			}
			consumed = vn
			payload = b[:consumed]
		case protowire.Fixed64Type:
			_, vn := protowire.ConsumeFixed64(b)
			if vn < 0 {
				return wrapProtocolError("malformed fixed64 field", protowire.ParseError(vn))
			}
			consumed = vn
			payload = b[:consumed]
		case protowire.Fixed32Type:
			_, vn := protowire.ConsumeFixed32(b)
			if vn < 0 {
				return wrapProtocolError("malformed fixed32 field", protowire.ParseError(vn))
			}
			consumed = vn
			payload = b[:consumed]
		case protowire.BytesType:
			bs, vn := protowire.ConsumeBytes(b)
			if vn < 0 {
				return wrapProtocolError("malformed length-delimited field", protowire.ParseError(vn))
			}
			consumed = vn
			payload = bs
		default:
			return newProtocolError(fmt.Sprintf("unsupported wire type %d", typ))
		}

		if err := fn(num, typ, payload); err != nil {
			return err
		}
		b = b[consumed:]
	}
	return nil
}

func fieldVarint(val []byte) uint64 {
	v, _ := protowire.ConsumeVarint(val)
	return v
}

func fieldFixed64(val []byte) uint64 {
	v, _ := protowire.ConsumeFixed64(val)
	return v
}

func appendUint32Field(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendFloat64Field(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// ---- message kind tags ----

type wireKind uint64

const (
	wireKindCompileRequest wireKind = iota + 1
	wireKindCanonicalizeResponse
	wireKindImportResponse
	wireKindFunctionCallResponse

	wireKindCompileResponse
	wireKindLogEvent
	wireKindProtocolErrorMsg
	wireKindCanonicalizeRequest
	wireKindImportRequest
	wireKindFunctionCallRequest
)

// envelope wraps a single specific message with its kind tag, field 1 =
// kind (varint), field 2 = payload (bytes).
func wrapEnvelope(kind wireKind, payload []byte) []byte {
	var b []byte
	b = appendUint32Field(b, 1, uint32(kind))
	b = appendBytesField(b, 2, payload)
	return b
}

func unwrapEnvelope(b []byte) (wireKind, []byte, error) {
	var kind wireKind
	var payload []byte
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			kind = wireKind(fieldVarint(val))
		case 2:
			payload = val
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if kind == 0 {
		return 0, nil, newProtocolError("missing message kind")
	}
	return kind, payload, nil
}

// ---- wireValue: the on-wire shape of Value ----

type wireValue struct {
	kind Kind

	text   string
	quoted bool

	number Number

	isRGB       bool
	r, g, b     uint32
	h, s, l     float64
	alpha       float64

	boolean bool

	items     []wireValue
	sep       Separator
	bracketed bool

	entries []wireMapEntry

	fnID        uint32
	fnSignature string
}

type wireMapEntry struct {
	Key   wireValue
	Value wireValue
}

func marshalWireValue(v wireValue) []byte {
	var b []byte
	b = appendUint32Field(b, 1, uint32(v.kind)+1) // +1 so KindString(0) is non-zero on the wire
	switch v.kind {
	case KindString:
		b = appendStringField(b, 2, v.text)
		b = appendBoolField(b, 3, v.quoted)
	case KindNumber:
		b = appendFloat64Field(b, 4, v.number.Value)
		for _, u := range v.number.Numerators {
			b = appendStringField(b, 5, u)
		}
		for _, u := range v.number.Denominators {
			b = appendStringField(b, 6, u)
		}
	case KindColor:
		b = appendBoolField(b, 7, v.isRGB)
		b = appendUint32Field(b, 8, v.r)
		b = appendUint32Field(b, 9, v.g)
		b = appendUint32Field(b, 10, v.b)
		b = appendFloat64Field(b, 11, v.h)
		b = appendFloat64Field(b, 12, v.s)
		b = appendFloat64Field(b, 13, v.l)
		b = appendFloat64Field(b, 14, v.alpha)
	case KindBool:
		b = appendBoolField(b, 15, v.boolean)
	case KindNull:
		// no payload
	case KindList:
		b = appendUint32Field(b, 16, uint32(v.sep)+1)
		b = appendBoolField(b, 17, v.bracketed)
		for _, item := range v.items {
			b = appendBytesField(b, 18, marshalWireValue(item))
		}
	case KindMap:
		for _, e := range v.entries {
			var eb []byte
			eb = appendBytesField(eb, 1, marshalWireValue(e.Key))
			eb = appendBytesField(eb, 2, marshalWireValue(e.Value))
			b = appendBytesField(b, 19, eb)
		}
	case KindCompilerFunction:
		b = appendUint32Field(b, 20, v.fnID)
	case KindDynamicFunction:
		b = appendUint32Field(b, 21, v.fnID)
		b = appendStringField(b, 22, v.fnSignature)
	}
	return b
}

func unmarshalWireValue(data []byte) (wireValue, error) {
	var v wireValue
	var kindSet bool
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			v.kind = Kind(fieldVarint(val) - 1)
			kindSet = true
		case 2:
			s, _ := protowire.ConsumeString(val)
			v.text = s
		case 3:
			v.quoted = fieldVarint(val) != 0
		case 4:
			v.number.Value = math.Float64frombits(fieldFixed64(val))
		case 5:
			s, _ := protowire.ConsumeString(val)
			v.number.Numerators = append(v.number.Numerators, s)
		case 6:
			s, _ := protowire.ConsumeString(val)
			v.number.Denominators = append(v.number.Denominators, s)
		case 7:
			v.isRGB = fieldVarint(val) != 0
		case 8:
			v.r = uint32(fieldVarint(val))
		case 9:
			v.g = uint32(fieldVarint(val))
		case 10:
			v.b = uint32(fieldVarint(val))
		case 11:
			v.h = math.Float64frombits(fieldFixed64(val))
		case 12:
			v.s = math.Float64frombits(fieldFixed64(val))
		case 13:
			v.l = math.Float64frombits(fieldFixed64(val))
		case 14:
			v.alpha = math.Float64frombits(fieldFixed64(val))
		case 15:
			v.boolean = fieldVarint(val) != 0
		case 16:
			v.sep = Separator(fieldVarint(val) - 1)
		case 17:
			v.bracketed = fieldVarint(val) != 0
		case 18:
			item, err := unmarshalWireValue(val)
			if err != nil {
				return err
			}
			v.items = append(v.items, item)
		case 19:
			var entry wireMapEntry
			err := forEachField(val, func(n2 protowire.Number, t2 protowire.Type, v2 []byte) error {
				switch n2 {
				case 1:
					k, err := unmarshalWireValue(v2)
					if err != nil {
						return err
					}
					entry.Key = k
				case 2:
					vv, err := unmarshalWireValue(v2)
					if err != nil {
						return err
					}
					entry.Value = vv
				}
				return nil
			})
			if err != nil {
				return err
			}
			v.entries = append(v.entries, entry)
		case 20:
			v.fnID = uint32(fieldVarint(val))
		case 21:
			v.fnID = uint32(fieldVarint(val))
		case 22:
			s, _ := protowire.ConsumeString(val)
			v.fnSignature = s
		}
		return nil
	})
	if err != nil {
		return wireValue{}, err
	}
	if !kindSet {
		return wireValue{}, newProtocolError("value missing kind discriminant")
	}
	return v, nil
}

// ---- wireSpan ----

func marshalWireSpan(s *Span) []byte {
	if s == nil {
		return nil
	}
	var b []byte
	b = appendStringField(b, 1, s.Text)
	b = appendStringField(b, 2, s.URL)
	b = appendUint32Field(b, 3, uint32(s.Start.Offset))
	b = appendUint32Field(b, 4, uint32(s.Start.Line))
	b = appendUint32Field(b, 5, uint32(s.Start.Column))
	if s.End != nil {
		b = appendBoolField(b, 6, true)
		b = appendUint32Field(b, 7, uint32(s.End.Offset))
		b = appendUint32Field(b, 8, uint32(s.End.Line))
		b = appendUint32Field(b, 9, uint32(s.End.Column))
	}
	b = appendStringField(b, 10, s.Context)
	return b
}

func unmarshalWireSpan(data []byte) (*Span, error) {
	if len(data) == 0 {
		return nil, nil
	}
	s := &Span{HasStart: true}
	var hasEnd bool
	var end Location
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			str, _ := protowire.ConsumeString(val)
			s.Text = str
		case 2:
			str, _ := protowire.ConsumeString(val)
			s.URL = str
		case 3:
			s.Start.Offset = int(fieldVarint(val))
		case 4:
			s.Start.Line = int(fieldVarint(val))
		case 5:
			s.Start.Column = int(fieldVarint(val))
		case 6:
			hasEnd = fieldVarint(val) != 0
		case 7:
			end.Offset = int(fieldVarint(val))
		case 8:
			end.Line = int(fieldVarint(val))
		case 9:
			end.Column = int(fieldVarint(val))
		case 10:
			str, _ := protowire.ConsumeString(val)
			s.Context = str
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasEnd {
		s.End = &end
	}
	return s, nil
}

// ---- CompileRequest ----

type wireImporterDescriptor struct {
	id       uint32
	isPath   bool
	path     string
	isCustom bool
}

type wireCompileRequest struct {
	id uint32

	isFile   bool
	text     string
	syntax   uint32
	url      string
	filePath string

	style                         uint32
	sourceMap                     bool
	sourceMapIncludeSources       bool
	silenceDeprecations           []string
	silenceDependencyDeprecations bool

	importers          []wireImporterDescriptor
	functionSignatures []string
}

func marshalCompileRequest(r wireCompileRequest) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	b = appendBoolField(b, 2, r.isFile)
	b = appendStringField(b, 3, r.text)
	b = appendUint32Field(b, 4, r.syntax+1)
	b = appendStringField(b, 5, r.url)
	b = appendStringField(b, 6, r.filePath)
	b = appendUint32Field(b, 7, r.style+1)
	b = appendBoolField(b, 8, r.sourceMap)
	b = appendBoolField(b, 9, r.sourceMapIncludeSources)
	for _, sd := range r.silenceDeprecations {
		b = appendStringField(b, 10, sd)
	}
	b = appendBoolField(b, 11, r.silenceDependencyDeprecations)
	for _, imp := range r.importers {
		var ib []byte
		ib = appendUint32Field(ib, 1, imp.id)
		ib = appendBoolField(ib, 2, imp.isPath)
		ib = appendStringField(ib, 3, imp.path)
		ib = appendBoolField(ib, 4, imp.isCustom)
		b = appendBytesField(b, 12, ib)
	}
	for _, sig := range r.functionSignatures {
		b = appendStringField(b, 13, sig)
	}
	return b
}

// ---- CompileResponse ----

type wireCompileResponse struct {
	id uint32

	hasResult bool
	success   bool

	css       string
	sourceMap string

	failureMessage string
	failureSpan    *Span
	failureTrace   string
}

func unmarshalCompileResponse(data []byte) (wireCompileResponse, error) {
	var r wireCompileResponse
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.hasResult = true
			r.success = true
			str, _ := protowire.ConsumeString(val)
			r.css = str
		case 3:
			str, _ := protowire.ConsumeString(val)
			r.sourceMap = str
		case 4:
			r.hasResult = true
			r.success = false
			str, _ := protowire.ConsumeString(val)
			r.failureMessage = str
		case 5:
			span, err := unmarshalWireSpan(val)
			if err != nil {
				return err
			}
			r.failureSpan = span
		case 6:
			str, _ := protowire.ConsumeString(val)
			r.failureTrace = str
		}
		return nil
	})
	return r, err
}

// ---- LogEvent ----

type wireLogEvent struct {
	kind            uint32
	message         string
	span            *Span
	trace           string
	deprecationType string
}

func unmarshalLogEvent(data []byte) (wireLogEvent, error) {
	var e wireLogEvent
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			e.kind = uint32(fieldVarint(val)) - 1
		case 2:
			str, _ := protowire.ConsumeString(val)
			e.message = str
		case 3:
			span, err := unmarshalWireSpan(val)
			if err != nil {
				return err
			}
			e.span = span
		case 4:
			str, _ := protowire.ConsumeString(val)
			e.trace = str
		case 5:
			str, _ := protowire.ConsumeString(val)
			e.deprecationType = str
		}
		return nil
	})
	return e, err
}

// ---- ProtocolError (outbound, from the child) ----

func unmarshalProtocolErrorMsg(data []byte) (string, error) {
	var msg string
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == 1 {
			str, _ := protowire.ConsumeString(val)
			msg = str
		}
		return nil
	})
	return msg, err
}

// ---- Canonicalize ----

type wireCanonicalizeRequest struct {
	id            uint32
	compilationID uint32
	importerID    uint32
	url           string
}

func unmarshalCanonicalizeRequest(data []byte) (wireCanonicalizeRequest, error) {
	var r wireCanonicalizeRequest
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.compilationID = uint32(fieldVarint(val))
		case 3:
			r.importerID = uint32(fieldVarint(val))
		case 4:
			str, _ := protowire.ConsumeString(val)
			r.url = str
		}
		return nil
	})
	return r, err
}

type wireCanonicalizeResponse struct {
	id       uint32
	hasURL   bool
	url      string
	hasError bool
	errMsg   string
}

func marshalCanonicalizeResponse(r wireCanonicalizeResponse) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	if r.hasURL {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.url)
	}
	if r.hasError {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, r.errMsg)
	}
	return b
}

// ---- Import ----

type wireImportRequest struct {
	id            uint32
	compilationID uint32
	importerID    uint32
	url           string
}

func unmarshalImportRequest(data []byte) (wireImportRequest, error) {
	var r wireImportRequest
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.compilationID = uint32(fieldVarint(val))
		case 3:
			r.importerID = uint32(fieldVarint(val))
		case 4:
			str, _ := protowire.ConsumeString(val)
			r.url = str
		}
		return nil
	})
	return r, err
}

type wireImportResponse struct {
	id           uint32
	success      bool
	contents     string
	syntax       uint32
	sourceMapURL string
	errMsg       string
}

func marshalImportResponse(r wireImportResponse) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	if r.success {
		b = appendBoolField(b, 2, true)
		b = appendStringField(b, 3, r.contents)
		b = appendUint32Field(b, 4, r.syntax+1)
		b = appendStringField(b, 5, r.sourceMapURL)
	} else {
		b = appendStringField(b, 6, r.errMsg)
	}
	return b
}

// ---- FunctionCall ----

type wireFunctionCallRequest struct {
	id            uint32
	compilationID uint32

	hasName       bool
	name          string
	hasFunctionID bool
	functionID    uint32

	arguments []wireValue
}

func unmarshalFunctionCallRequest(data []byte) (wireFunctionCallRequest, error) {
	var r wireFunctionCallRequest
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.compilationID = uint32(fieldVarint(val))
		case 3:
			r.hasName = true
			str, _ := protowire.ConsumeString(val)
			r.name = str
		case 4:
			r.hasFunctionID = true
			r.functionID = uint32(fieldVarint(val))
		case 5:
			v, err := unmarshalWireValue(val)
			if err != nil {
				return err
			}
			r.arguments = append(r.arguments, v)
		}
		return nil
	})
	return r, err
}

type wireFunctionCallResponse struct {
	id      uint32
	success bool
	result  wireValue
	errMsg  string
}

func marshalFunctionCallResponse(r wireFunctionCallResponse) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	if r.success {
		b = appendBytesField(b, 2, marshalWireValue(r.result))
	} else {
		b = appendStringField(b, 3, r.errMsg)
	}
	return b
}

// ---- top-level inbound (host -> compiler) ----

func marshalInboundCompileRequest(r wireCompileRequest) []byte {
	return wrapEnvelope(wireKindCompileRequest, marshalCompileRequest(r))
}

func marshalInboundCanonicalizeResponse(r wireCanonicalizeResponse) []byte {
	return wrapEnvelope(wireKindCanonicalizeResponse, marshalCanonicalizeResponse(r))
}

func marshalInboundImportResponse(r wireImportResponse) []byte {
	return wrapEnvelope(wireKindImportResponse, marshalImportResponse(r))
}

func marshalInboundFunctionCallResponse(r wireFunctionCallResponse) []byte {
	return wrapEnvelope(wireKindFunctionCallResponse, marshalFunctionCallResponse(r))
}

// outboundMessage is the parsed form of any message the child may send.
type outboundMessage struct {
	kind                 wireKind
	compileResponse      *wireCompileResponse
	logEvent             *wireLogEvent
	protocolErrorMessage string
	canonicalizeRequest  *wireCanonicalizeRequest
	importRequest        *wireImportRequest
	functionCallRequest  *wireFunctionCallRequest
}

func parseOutboundMessage(b []byte) (outboundMessage, error) {
	kind, payload, err := unwrapEnvelope(b)
	if err != nil {
		return outboundMessage{}, err
	}
	msg := outboundMessage{kind: kind}
	switch kind {
	case wireKindCompileResponse:
		r, err := unmarshalCompileResponse(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.compileResponse = &r
	case wireKindLogEvent:
		e, err := unmarshalLogEvent(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.logEvent = &e
	case wireKindProtocolErrorMsg:
		m, err := unmarshalProtocolErrorMsg(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.protocolErrorMessage = m
	case wireKindCanonicalizeRequest:
		r, err := unmarshalCanonicalizeRequest(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.canonicalizeRequest = &r
	case wireKindImportRequest:
		r, err := unmarshalImportRequest(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.importRequest = &r
	case wireKindFunctionCallRequest:
		r, err := unmarshalFunctionCallRequest(payload)
		if err != nil {
			return outboundMessage{}, err
		}
		msg.functionCallRequest = &r
	default:
		return outboundMessage{}, newProtocolError(fmt.Sprintf("unsupported outbound message kind %d", kind))
	}
	return msg, nil
}

// ---- the reverse direction: a fake compiler's view of the wire ----
//
// These are used only by the in-process fake channel test infrastructure
// (see SPEC_FULL.md's Testing Strategy) to play the external compiler's
// side of the protocol.

func unmarshalCompileRequest(data []byte) (wireCompileRequest, error) {
	var r wireCompileRequest
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.isFile = fieldVarint(val) != 0
		case 3:
			str, _ := protowire.ConsumeString(val)
			r.text = str
		case 4:
			r.syntax = uint32(fieldVarint(val)) - 1
		case 5:
			str, _ := protowire.ConsumeString(val)
			r.url = str
		case 6:
			str, _ := protowire.ConsumeString(val)
			r.filePath = str
		case 7:
			r.style = uint32(fieldVarint(val)) - 1
		case 8:
			r.sourceMap = fieldVarint(val) != 0
		case 9:
			r.sourceMapIncludeSources = fieldVarint(val) != 0
		case 10:
			str, _ := protowire.ConsumeString(val)
			r.silenceDeprecations = append(r.silenceDeprecations, str)
		case 11:
			r.silenceDependencyDeprecations = fieldVarint(val) != 0
		case 12:
			var imp wireImporterDescriptor
			err := forEachField(val, func(n2 protowire.Number, t2 protowire.Type, v2 []byte) error {
				switch n2 {
				case 1:
					imp.id = uint32(fieldVarint(v2))
				case 2:
					imp.isPath = fieldVarint(v2) != 0
				case 3:
					str, _ := protowire.ConsumeString(v2)
					imp.path = str
				case 4:
					imp.isCustom = fieldVarint(v2) != 0
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.importers = append(r.importers, imp)
		case 13:
			str, _ := protowire.ConsumeString(val)
			r.functionSignatures = append(r.functionSignatures, str)
		}
		return nil
	})
	return r, err
}

func marshalCompileResponse(r wireCompileResponse) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	if r.success {
		// Field 2 marks success, so it is written even when css is empty.
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.css)
		b = appendStringField(b, 3, r.sourceMap)
	} else {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, r.failureMessage)
		b = appendBytesField(b, 5, marshalWireSpan(r.failureSpan))
		b = appendStringField(b, 6, r.failureTrace)
	}
	return b
}

func marshalLogEvent(e wireLogEvent) []byte {
	var b []byte
	b = appendUint32Field(b, 1, e.kind+1)
	b = appendStringField(b, 2, e.message)
	b = appendBytesField(b, 3, marshalWireSpan(e.span))
	b = appendStringField(b, 4, e.trace)
	b = appendStringField(b, 5, e.deprecationType)
	return b
}

func marshalProtocolErrorMsg(msg string) []byte {
	var b []byte
	b = appendStringField(b, 1, msg)
	return b
}

func marshalCanonicalizeRequest(r wireCanonicalizeRequest) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	b = appendUint32Field(b, 2, r.compilationID)
	b = appendUint32Field(b, 3, r.importerID)
	b = appendStringField(b, 4, r.url)
	return b
}

func unmarshalCanonicalizeResponse(data []byte) (wireCanonicalizeResponse, error) {
	var r wireCanonicalizeResponse
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.hasURL = true
			str, _ := protowire.ConsumeString(val)
			r.url = str
		case 3:
			r.hasError = true
			str, _ := protowire.ConsumeString(val)
			r.errMsg = str
		}
		return nil
	})
	return r, err
}

func marshalImportRequest(r wireImportRequest) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	b = appendUint32Field(b, 2, r.compilationID)
	b = appendUint32Field(b, 3, r.importerID)
	b = appendStringField(b, 4, r.url)
	return b
}

func unmarshalImportResponse(data []byte) (wireImportResponse, error) {
	var r wireImportResponse
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.success = fieldVarint(val) != 0
		case 3:
			str, _ := protowire.ConsumeString(val)
			r.contents = str
		case 4:
			r.syntax = uint32(fieldVarint(val)) - 1
		case 5:
			str, _ := protowire.ConsumeString(val)
			r.sourceMapURL = str
		case 6:
			str, _ := protowire.ConsumeString(val)
			r.errMsg = str
		}
		return nil
	})
	return r, err
}

func marshalFunctionCallRequest(r wireFunctionCallRequest) []byte {
	var b []byte
	b = appendUint32Field(b, 1, r.id)
	b = appendUint32Field(b, 2, r.compilationID)
	if r.hasName {
		b = appendStringField(b, 3, r.name)
	}
	if r.hasFunctionID {
		b = appendUint32Field(b, 4, r.functionID)
	}
	for _, a := range r.arguments {
		b = appendBytesField(b, 5, marshalWireValue(a))
	}
	return b
}

func unmarshalFunctionCallResponse(data []byte) (wireFunctionCallResponse, error) {
	var r wireFunctionCallResponse
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			r.id = uint32(fieldVarint(val))
		case 2:
			r.success = true
			v, err := unmarshalWireValue(val)
			if err != nil {
				return err
			}
			r.result = v
		case 3:
			str, _ := protowire.ConsumeString(val)
			r.errMsg = str
		}
		return nil
	})
	return r, err
}

func marshalOutboundCompileResponse(r wireCompileResponse) []byte {
	return wrapEnvelope(wireKindCompileResponse, marshalCompileResponse(r))
}

func marshalOutboundLogEvent(e wireLogEvent) []byte {
	return wrapEnvelope(wireKindLogEvent, marshalLogEvent(e))
}

func marshalOutboundProtocolError(msg string) []byte {
	return wrapEnvelope(wireKindProtocolErrorMsg, marshalProtocolErrorMsg(msg))
}

func marshalOutboundCanonicalizeRequest(r wireCanonicalizeRequest) []byte {
	return wrapEnvelope(wireKindCanonicalizeRequest, marshalCanonicalizeRequest(r))
}

func marshalOutboundImportRequest(r wireImportRequest) []byte {
	return wrapEnvelope(wireKindImportRequest, marshalImportRequest(r))
}

func marshalOutboundFunctionCallRequest(r wireFunctionCallRequest) []byte {
	return wrapEnvelope(wireKindFunctionCallRequest, marshalFunctionCallRequest(r))
}

// inboundMessage is the parsed form of any message the host may send,
// from the fake compiler's point of view.
type inboundMessage struct {
	kind                 wireKind
	compileRequest       *wireCompileRequest
	canonicalizeResponse *wireCanonicalizeResponse
	importResponse       *wireImportResponse
	functionCallResponse *wireFunctionCallResponse
}

func parseInboundMessage(b []byte) (inboundMessage, error) {
	kind, payload, err := unwrapEnvelope(b)
	if err != nil {
		return inboundMessage{}, err
	}
	msg := inboundMessage{kind: kind}
	switch kind {
	case wireKindCompileRequest:
		r, err := unmarshalCompileRequest(payload)
		if err != nil {
			return inboundMessage{}, err
		}
		msg.compileRequest = &r
	case wireKindCanonicalizeResponse:
		r, err := unmarshalCanonicalizeResponse(payload)
		if err != nil {
			return inboundMessage{}, err
		}
		msg.canonicalizeResponse = &r
	case wireKindImportResponse:
		r, err := unmarshalImportResponse(payload)
		if err != nil {
			return inboundMessage{}, err
		}
		msg.importResponse = &r
	case wireKindFunctionCallResponse:
		r, err := unmarshalFunctionCallResponse(payload)
		if err != nil {
			return inboundMessage{}, err
		}
		msg.functionCallResponse = &r
	default:
		return inboundMessage{}, newProtocolError(fmt.Sprintf("unsupported inbound message kind %d", kind))
	}
	return msg, nil
}
