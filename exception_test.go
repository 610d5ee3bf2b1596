package orbit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/astro-stack/orbit"
)

func TestNewExceptionOp(t *testing.T) {
	t.Parallel()

	op := orbit.NewExceptionOp(errors.New("kaboom"), "POST", "/books/")
	AssertEqual(t, "*errors.errorString", op.ExceptionType)
	AssertEqual(t, "kaboom", op.Message)
	AssertEqual(t, "POST", op.Method)
	AssertEqual(t, "/books/", op.Path)

	if len(op.Traceback) <= 0 {
		t.Fatal("empty traceback")
	}

	top := op.Traceback[0]
	AssertEqual(t, "TestNewExceptionOp", top.Function)
	AssertEqual(t, true, strings.HasSuffix(top.File, "exception_test.go"))
	AssertEqual(t, true, strings.Contains(top.Code, "orbit.NewExceptionOp"))
}

func TestRecoverException(t *testing.T) {
	t.Parallel()

	rec := newTestRecorder(t, nil)

	var id string
	func() {
		defer func() {
			if v := recover(); v != nil {
				id, _ = rec.Observe(context.Background(), orbit.RecoverException(v, "GET", "/panic/"))
			}
		}()
		panic("at the disco")
	}()

	e, err := rec.Get(context.Background(), id)
	AssertNoError(t, err)
	AssertEqual(t, true, orbit.IsImportant(e))

	var op orbit.ExceptionOp
	AssertNoError(t, e.DecodePayload(&op))
	AssertEqual(t, "panic", op.ExceptionType)
	AssertEqual(t, "at the disco", op.Message)
}

func TestIsImportant(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		typ   orbit.Type
		level string
		want  bool
	}{
		{orbit.TypeLog, "ERROR", true},
		{orbit.TypeLog, "error", true},
		{orbit.TypeLog, "ERROR+2", true},
		{orbit.TypeLog, "critical", true},
		{orbit.TypeLog, "FATAL", true},
		{orbit.TypeLog, "WARNING", false},
		{orbit.TypeLog, "INFO", false},
		{orbit.TypeLog, "", false},
		{orbit.TypeRequest, "ERROR", false},
	} {
		e := mustEntry(t, orbit.EntryParams{Type: tc.typ, Payload: map[string]any{"level": tc.level}})
		ExpectEqual(t, tc.want, orbit.IsImportant(e))
	}
}
