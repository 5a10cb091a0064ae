package server

import (
	"errors"

	"github.com/wrapl/minilang-sub003/compiler"
)

// Diagnostic is a compile error flattened for transport.
type Diagnostic struct {
	Category string   `cbor:"1,keyasint"`
	Message  string   `cbor:"2,keyasint"`
	Source   string   `cbor:"3,keyasint"`
	Line     int      `cbor:"4,keyasint"`
	Trace    []string `cbor:"5,keyasint,omitempty"`
}

// diagnose converts err into diagnostics. Errors that are not compile
// errors become a single internal diagnostic without a position.
func diagnose(err error) []Diagnostic {
	if err == nil {
		return nil
	}
	var ce *compiler.Error
	if !errors.As(err, &ce) {
		return []Diagnostic{{Category: compiler.ErrInternal.String(), Message: err.Error()}}
	}
	d := Diagnostic{
		Category: ce.Category.String(),
		Message:  ce.Message,
		Source:   ce.Source,
		Line:     ce.Line,
	}
	for _, p := range ce.Trace {
		d.Trace = append(d.Trace, p.String())
	}
	return []Diagnostic{d}
}
