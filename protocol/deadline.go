package protocol

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidDeadline is returned for an empty, malformed, or unit-less
// grpc-timeout header.
var ErrInvalidDeadline = errors.New("grpcweb: invalid grpc-timeout header")

// timeoutUnits maps the single-character grpc-timeout unit suffix to its
// duration.
var timeoutUnits = map[byte]time.Duration{
	'H': time.Hour,
	'M': time.Minute,
	'S': time.Second,
	'm': time.Millisecond,
	'u': time.Microsecond,
	'n': time.Nanosecond,
}

// encodeOrder lists units smallest-to-largest, mirroring grpc-go's own
// grpc-timeout encoder (internal/transport/http_util.go): the smallest unit
// whose integer value still fits in 8 digits wins, so the header loses as
// little precision as possible.
var encodeOrder = []struct {
	suffix byte
	unit   time.Duration
}{
	{'n', time.Nanosecond},
	{'u', time.Microsecond},
	{'m', time.Millisecond},
	{'S', time.Second},
	{'M', time.Minute},
	{'H', time.Hour},
}

const maxTimeoutDigits = 99999999

// ParseTimeout parses a grpc-timeout header of the form "<integer><unit>"
// into a duration in seconds. Zero and negative inputs are legal and
// produce an already-expired deadline.
func ParseTimeout(header string) (seconds float64, err error) {
	if header == "" {
		return 0, ErrInvalidDeadline
	}

	unit, ok := timeoutUnits[header[len(header)-1]]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidDeadline, "unknown unit in %q", header)
	}

	digits := header[:len(header)-1]
	if digits == "" {
		return 0, errors.Wrapf(ErrInvalidDeadline, "missing digits in %q", header)
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidDeadline, "non-digit prefix in %q", header)
	}

	return float64(n) * unit.Seconds(), nil
}

// EncodeTimeout formats a non-negative duration in seconds as a
// grpc-timeout header, choosing the smallest unit whose integer value is
// at most 8 digits, rounding the value up to whole units of that size so
// the encoded deadline never expires earlier than requested.
func EncodeTimeout(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	ns := seconds * float64(time.Second)

	for _, u := range encodeOrder {
		n := ceilDiv(ns, float64(u.unit))
		if n <= maxTimeoutDigits {
			return strconv.FormatInt(n, 10) + string(u.suffix)
		}
	}

	n := ceilDiv(ns, float64(time.Hour))
	return strconv.FormatInt(n, 10) + "H"
}

func ceilDiv(ns, unit float64) int64 {
	if unit == 0 {
		return 0
	}
	q := ns / unit
	n := int64(q)
	if float64(n) < q {
		n++
	}
	return n
}
