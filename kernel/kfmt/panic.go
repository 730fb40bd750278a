package kfmt

import "physmem/kernel"

var (
	// haltFn is invoked after a panic report has been printed. Tests may
	// replace it.
	haltFn = halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// calling task. Calls to Panic never return unless haltFn has been replaced.
//
// Panic is the single escalation point for contract violations and for
// allocation failures that the caller flagged as must-succeed.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn(err)
}

// halt unwinds the calling goroutine carrying err as the panic value.
func halt(err *kernel.Error) {
	if err == nil {
		err = errRuntimePanic
	}
	panic(err)
}
