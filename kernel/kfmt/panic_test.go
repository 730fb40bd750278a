package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"physmem/kernel"
)

func TestPanic(t *testing.T) {
	defer func() {
		haltFn = halt
		SetOutputSink(nil)
	}()

	var (
		buf       bytes.Buffer
		haltedErr *kernel.Error
		halted    bool
	)
	haltFn = func(err *kernel.Error) {
		halted = true
		haltedErr = err
	}
	SetOutputSink(&buf)

	specs := []struct {
		descr     string
		input     interface{}
		expOutput string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			buf.Reset()
			halted = false

			Panic(spec.input)

			if got := buf.String(); got != spec.expOutput {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.expOutput, got)
			}

			if !halted {
				t.Fatal("expected haltFn to be called by Panic")
			}
		})
	}

	expErr := &kernel.Error{Module: "test", Message: "identity"}
	Panic(expErr)
	if haltedErr != expErr {
		t.Fatalf("expected haltFn to receive %v; got %v", expErr, haltedErr)
	}
}

func TestDefaultHaltPanics(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(&bytes.Buffer{})

	expErr := &kernel.Error{Module: "test", Message: "halt"}
	defer func() {
		if got := recover(); got != expErr {
			t.Fatalf("expected Panic to unwind with %v; got %v", expErr, got)
		}
	}()

	Panic(expErr)
	t.Fatal("expected Panic not to return")
}
