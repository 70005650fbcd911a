package oob

import (
	"bytes"

	"github.com/crystal-mush/mudtelnet/pkg/telnet"
)

// MSSP reuses the MSDP VAR and VAL bytes.
const (
	MSSPVar = MSDPVar
	MSSPVal = MSDPVal
)

// EncodeMSSP builds a standard MSSP payload: VAR name VAL value for each row.
// Rows sharing a name are sent as repeated VALs under one VAR.
func EncodeMSSP(vars []telnet.MSSPVar) []byte {
	var buf bytes.Buffer
	last := ""
	for i, v := range vars {
		if i == 0 || v.Name != last {
			buf.WriteByte(MSSPVar)
			buf.WriteString(v.Name)
			last = v.Name
		}
		buf.WriteByte(MSSPVal)
		buf.WriteString(v.Value)
	}
	return buf.Bytes()
}

// ParseMSSP decodes a standard MSSP payload back into rows.
func ParseMSSP(data []byte) []telnet.MSSPVar {
	var out []telnet.MSSPVar
	for _, v := range ParseMSDP(data) {
		for _, val := range v.Values {
			out = append(out, telnet.MSSPVar{Name: v.Name, Value: val})
		}
	}
	return out
}
