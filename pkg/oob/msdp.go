package oob

import "bytes"

// MSDP payload control bytes.
const (
	MSDPVar        byte = 1
	MSDPVal        byte = 2
	MSDPTableOpen  byte = 3
	MSDPTableClose byte = 4
	MSDPArrayOpen  byte = 5
	MSDPArrayClose byte = 6
)

// Variable is one MSDP variable. A scalar has exactly one value; an array
// has one per element.
type Variable struct {
	Name   string
	Values []string
}

// Value returns the first value, or "" if there is none.
func (v Variable) Value() string {
	if len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// EncodeMSDP builds an MSDP payload from vars, in order. Variables with more
// than one value are sent as arrays.
func EncodeMSDP(vars ...Variable) []byte {
	var buf bytes.Buffer
	for _, v := range vars {
		buf.WriteByte(MSDPVar)
		buf.WriteString(v.Name)
		buf.WriteByte(MSDPVal)
		if len(v.Values) == 1 {
			buf.WriteString(v.Values[0])
			continue
		}
		buf.WriteByte(MSDPArrayOpen)
		for _, val := range v.Values {
			buf.WriteByte(MSDPVal)
			buf.WriteString(val)
		}
		buf.WriteByte(MSDPArrayClose)
	}
	return buf.Bytes()
}

// ParseMSDP decodes an MSDP payload. Array elements are collected into
// Values; table contents are skipped.
func ParseMSDP(data []byte) []Variable {
	var (
		vars   []Variable
		key    []byte
		val    []byte
		cur    = -1
		inKey  bool
		inVal  bool
		tables int
	)

	flushVal := func() {
		if inVal && cur >= 0 {
			vars[cur].Values = append(vars[cur].Values, string(val))
		}
		val = val[:0]
		inVal = false
	}

	for _, b := range data {
		if tables > 0 {
			switch b {
			case MSDPTableOpen:
				tables++
			case MSDPTableClose:
				tables--
			}
			continue
		}

		switch b {
		case MSDPVar:
			flushVal()
			inKey = true
			key = key[:0]
		case MSDPVal:
			if inKey {
				vars = append(vars, Variable{Name: string(key)})
				cur = len(vars) - 1
				inKey = false
			} else {
				flushVal()
			}
			inVal = true
		case MSDPArrayOpen:
			inVal = false
		case MSDPArrayClose:
			flushVal()
		case MSDPTableOpen:
			inVal = false
			tables = 1
		default:
			if inKey {
				key = append(key, b)
			} else if inVal {
				val = append(val, b)
			}
		}
	}
	flushVal()
	return vars
}
