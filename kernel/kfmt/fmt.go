// Package kfmt implements the console formatting used by the trust anchor.
// Output produced before a character device is attached is kept in a ring
// buffer and replayed once SetOutputSink installs a sink.
package kfmt

import "io"

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf [maxBufSize + 1]byte

	// earlyPrintBuffer stores Printf output produced before a sink is
	// attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives the output of Printf. While it is nil the output
	// is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// stringer is satisfied by the kernel's enumerations (causes, privilege
// levels, permissions) so they can be printed with %s.
type stringer interface {
	String() string
}

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output accumulated in the early ring buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for calls to Printf. Before a
// sink is attached it returns the early ring buffer.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf writes formatted output to the active sink. It supports the
// following subset of the fmt verbs:
//
//	%s  strings, byte slices and values with a String method
//	%c  a single byte or rune
//	%d  base 10
//	%x  base 16, lower-case
//	%o  base 8
//	%t  "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArgIndex int
		blockStart   int
		fmtLen       = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			continue
		}

		if blockStart < i {
			doWrite(w, []byte(format[blockStart:i]))
		}

		padLen := 0
		i++
		for ; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = padLen*10 + int(format[i]-'0')
		}
		blockStart = i + 1

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			doWrite(w, []byte{'%'})
			continue
		case 'd', 'x', 'o', 's', 't', 'c':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if nextArgIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[nextArgIndex]
		nextArgIndex++
		switch verb {
		case 'o':
			fmtInt(w, arg, 8, padLen)
		case 'd':
			fmtInt(w, arg, 10, padLen)
		case 'x':
			fmtInt(w, arg, 16, padLen)
		case 's':
			fmtString(w, arg, padLen)
		case 't':
			fmtBool(w, arg)
		case 'c':
			fmtChar(w, arg)
		}
	}

	if blockStart < fmtLen {
		doWrite(w, []byte(format[blockStart:]))
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtChar prints a single byte.
func fmtChar(w io.Writer, v interface{}) {
	switch ch := v.(type) {
	case byte:
		doWrite(w, []byte{ch})
	case rune:
		doWrite(w, []byte(string(ch)))
	case uint32:
		doWrite(w, []byte{byte(ch)})
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtString prints a string, byte slice or stringer, applying the padding
// specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	var str []byte
	switch castedVal := v.(type) {
	case string:
		str = []byte(castedVal)
	case []byte:
		str = castedVal
	case stringer:
		str = []byte(castedVal.String())
	default:
		doWrite(w, errWrongArgType)
		return
	}

	fmtRepeat(w, ' ', padLen-len(str))
	doWrite(w, str)
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		doWrite(w, []byte{ch})
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. Values of named integer types must be
// converted to their built-in type by the caller.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval        int64
		uval        uint64
		padCh       = byte('0')
		left, right int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}
	if base == 10 {
		padCh = ' '
	}

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	divider := uint64(base)
	for right < maxBufSize {
		remainder := uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}
		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	// The sign replaces the leftmost blank when space padding leaves room
	// for it; otherwise it widens the output by one.
	if sval < 0 {
		end := right - 1
		for ; end >= 0 && numFmtBuf[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		numFmtBuf[end+1] = '-'
	}

	end := right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[0:end])
}

// doWrite sends p to w or, when no sink is attached, to the early ring
// buffer.
func doWrite(w io.Writer, p []byte) {
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}
