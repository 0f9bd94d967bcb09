package template

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// functions are the built-ins callable as ${name(args)}. Each receives the
// raw text between the parentheses.
var functions = map[string]func(args string) (string, error){
	"uuid":          fnUUID,
	"timestamp":     fnTimestamp,
	"timestamp_ms":  fnTimestampMs,
	"random":        fnRandom,
	"random_string": fnRandomString,
	"choice":        fnChoice,
	"date":          fnDate,
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// evalFunction evaluates expr if it is a call to a known built-in. The
// second result is false when expr is not such a call.
func evalFunction(expr string) (string, bool, error) {
	open := strings.IndexByte(expr, '(')
	if open == -1 || !strings.HasSuffix(expr, ")") {
		return "", false, nil
	}

	name := expr[:open]
	fn, ok := functions[name]
	if !ok {
		return "", false, nil
	}

	result, err := fn(expr[open+1 : len(expr)-1])
	if err != nil {
		return "", true, errors.WithMessagef(err, "function %s", name)
	}
	return result, true, nil
}

func noArgs(name, args string) error {
	if strings.TrimSpace(args) != "" {
		return errors.Errorf("%s() takes no arguments", name)
	}
	return nil
}

// randInt returns a uniform random integer in [0, n).
func randInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, errors.Wrap(err, "reading random source")
	}
	return v.Int64(), nil
}

// fnUUID generates a random (version 4) UUID.
func fnUUID(args string) (string, error) {
	if err := noArgs("uuid", args); err != nil {
		return "", err
	}

	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "reading random source")
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

func fnTimestamp(args string) (string, error) {
	if err := noArgs("timestamp", args); err != nil {
		return "", err
	}
	return strconv.FormatInt(time.Now().Unix(), 10), nil
}

func fnTimestampMs(args string) (string, error) {
	if err := noArgs("timestamp_ms", args); err != nil {
		return "", err
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10), nil
}

// fnRandom returns an integer in [min, max]: random(min,max).
func fnRandom(args string) (string, error) {
	lo, hi, ok := strings.Cut(args, ",")
	if !ok || strings.Contains(hi, ",") {
		return "", errors.New("random(min,max) takes exactly 2 arguments")
	}

	from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return "", errors.Wrap(err, "min")
	}
	to, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return "", errors.Wrap(err, "max")
	}
	if from > to {
		return "", errors.Errorf("min (%d) must be <= max (%d)", from, to)
	}

	n, err := randInt(to - from + 1)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(from+n, 10), nil
}

// fnRandomString returns length alphanumeric characters:
// random_string(length), with 0 < length <= 1000.
func fnRandomString(args string) (string, error) {
	length, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return "", errors.Wrap(err, "length")
	}
	if length <= 0 || length > 1000 {
		return "", errors.Errorf("length %d out of range (1-1000)", length)
	}

	out := make([]byte, length)
	for i := range out {
		n, err := randInt(int64(len(alphanumeric)))
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[n]
	}
	return string(out), nil
}

// fnChoice picks one of its comma separated arguments: choice(a,b,c).
func fnChoice(args string) (string, error) {
	options := strings.Split(args, ",")
	if strings.TrimSpace(args) == "" {
		return "", errors.New("choice() needs at least one argument")
	}
	n, err := randInt(int64(len(options)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(options[n]), nil
}

// fnDate formats the current time with a Go reference layout, e.g.
// date(2006-01-02). Without a layout it uses RFC 3339.
func fnDate(args string) (string, error) {
	layout := strings.TrimSpace(args)
	if layout == "" {
		layout = time.RFC3339
	}
	return time.Now().Format(layout), nil
}
