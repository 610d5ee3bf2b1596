package orbit

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-stack/stack"
)

const maxTracebackFrames = 32

var myPackagePath = fmt.Sprintf("%+k", stack.Caller(0))

// NewExceptionOp builds an exception operation from the error, capturing the
// call stack of the caller. Method and path identify the originating request,
// and may be empty.
func NewExceptionOp(err error, method, path string) ExceptionOp {
	op := ExceptionOp{
		ExceptionType: "error",
		Method:        method,
		Path:          path,
		Traceback:     getTraceback(),
	}
	if err != nil {
		op.ExceptionType = fmt.Sprintf("%T", err)
		op.Message = err.Error()
	}
	return op
}

// RecoverException builds an exception operation from a value recovered from
// a panic. It should be called in the deferred function that recovered, so
// that the traceback includes the panicking frames.
func RecoverException(v any, method, path string) ExceptionOp {
	op := ExceptionOp{
		ExceptionType: "panic",
		Method:        method,
		Path:          path,
		Traceback:     getTraceback(),
	}
	switch x := v.(type) {
	case error:
		op.ExceptionType = fmt.Sprintf("panic(%T)", x)
		op.Message = x.Error()
	case fmt.Stringer:
		op.Message = x.String()
	default:
		op.Message = fmt.Sprint(x)
	}
	return op
}

func getTraceback() []Frame {
	var frames []Frame
	for _, c := range stack.Trace().TrimRuntime() {
		if pkg := fmt.Sprintf("%+k", c); pkg == myPackagePath || strings.HasPrefix(pkg, myPackagePath+"/") {
			continue
		}

		fr := c.Frame()
		frames = append(frames, Frame{
			File:     fr.File,
			Line:     fr.Line,
			Function: fmt.Sprintf("%n", c),
			Code:     sourceLine(fr.File, fr.Line),
		})

		if len(frames) >= maxTracebackFrames {
			break
		}
	}
	return frames
}

// sourceLine returns the trimmed text of the given line of the file, or an
// empty string if it can't be read.
func sourceLine(file string, line int) string {
	if file == "" || line <= 0 {
		return ""
	}

	f, err := os.Open(file)
	if err != nil {
		return ""
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for n := 1; s.Scan(); n++ {
		if n == line {
			return strings.TrimSpace(s.Text())
		}
	}
	return ""
}
