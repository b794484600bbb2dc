package mainutil

import (
	"io"
	"os"
	"strings"
	"time"
	"unsafe"

	"github.com/mattn/go-shellwords"
	flag "github.com/spf13/pflag"
)

// ParseArgs parses flags twice: once against os.Args alone to recover any
// bare positional arguments, then again with words piped over stdin
// appended, so `echo --depth=20 | collector --dump-path ./out` can extend
// the flag set without lengthening the invocation line.
func ParseArgs(flags *flag.FlagSet) (argv []string, err error) {
	var argx []string
	if input, err := readAllStdin(); err == nil && len(input) > 0 {
		parser := shellwords.NewParser()
		parser.ParseEnv = true
		words, err := parser.Parse(b2s(input))
		if err != nil {
			return nil, err
		}
		argx = words
	} else if err != nil {
		return nil, err
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, err
	}
	argv = append([]string{}, flags.Args()...)
	return argv, flags.Parse(append(os.Args[1:], argx...))
}

// ParseTime parses collector time-range boundaries. "", "-" and "0" are the
// unset sentinel and return the zero time; otherwise the input is tried
// against a widening set of layouts, from date-only to fractional seconds.
func ParseTime(s string) (t time.Time, err error) {
	if s == "" || s == "-" || s == "0" {
		return time.Time{}, nil
	}
	if strings.ContainsAny(s, "T_ ") {
		s = strings.NewReplacer("T", " ", "_", " ", "   ", " ", "  ", " ").Replace(s)
	}
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999",
	}
	for i := len(formats) - 1; i > 0; i-- {
		if t, err := time.Parse(formats[i], s); err == nil {
			return t, nil
		}
	}
	return time.Parse(formats[0], s)
}

// readAllStdin returns nil, nil when stdin is a terminal (nothing piped in)
// rather than blocking on a read that would never return.
func readAllStdin() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return nil, nil
	}
	return io.ReadAll(os.Stdin)
}

func b2s(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}
