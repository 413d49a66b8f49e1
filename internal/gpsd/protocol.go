package gpsd

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/maximewewer/gpsd-refclock/pkg/mathutil"
)

// Precision defaults (log2 seconds)
const (
	// SerialPrecision is assumed for serial time (about 2 ms)
	SerialPrecision = -9

	// PulsePrecision is assumed for the pulse-only clock (about 1 us)
	PulsePrecision = -20

	minPrecision = -32
	maxPrecision = 0

	// defaultEPT is the expected time error when a fix carries none
	defaultEPT = 2.0e-3
)

// MaxLineLength bounds a single JSON record. gpsd responses are at most 4096 bytes.
const MaxLineLength = 8192

// maxLastCode bounds the saved last time code
const maxLastCode = 128

// DefaultDevicePattern names the device watched when none is configured
const DefaultDevicePattern = "/dev/gps%d"

// Driver errors
var (
	// ErrNoAddress indicates no gpsd service address could be resolved
	ErrNoAddress = errors.New("no gpsd socket address")

	// ErrNotCharDevice indicates the configured device is not a character device
	ErrNotCharDevice = errors.New("not a character device")

	// ErrRegistration indicates the I/O dispatcher rejected a socket
	ErrRegistration = errors.New("failed to register with I/O dispatcher")

	// ErrUnitInUse indicates a clock for the unit number is already running
	ErrUnitInUse = errors.New("refclock unit already started")

	// ErrNotConnected indicates a write without an established connection
	ErrNotConnected = errors.New("not connected to gpsd")

	// ErrShortWrite indicates the socket accepted only part of a request
	ErrShortWrite = errors.New("short write")
)

// Outbound requests
var versionRequest = []byte("?VERSION;\r\n")

// watchRequest renders the WATCH subscription for device. The pps form also
// asks for TOFF records.
func watchRequest(device string, pps bool) []byte {
	if pps {
		return []byte(fmt.Sprintf(`?WATCH={"device":%q,"enable":true,"json":true,"pps":true};`+"\r\n", device))
	}
	return []byte(fmt.Sprintf(`?WATCH={"device":%q,"enable":true,"json":true};`+"\r\n", device))
}

// ProtoVersion packs a gpsd protocol version as major<<16 | minor
func ProtoVersion(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// FormatProtoVersion renders a packed protocol version
func FormatProtoVersion(v uint32) string {
	return strconv.Itoa(int(v>>16)) + "." + strconv.Itoa(int(v&0xFFFF))
}

// Protocol thresholds
var (
	protoNanoPPS = ProtoVersion(3, 9)
	protoTOFF    = ProtoVersion(3, 10)
)

// clampPrecision limits a precision exponent to [-32, 0]
func clampPrecision(p int64) int {
	return int(mathutil.Clamp(p, minPrecision, maxPrecision))
}

// eptPrecision derives a precision exponent from the expected time error of
// a fix (seconds)
func eptPrecision(ept float64) int {
	frac, exp := math.Frexp(math.Abs(ept) * 0.70710678)
	e := int64(exp)
	if frac < 0.25 {
		e = math.MinInt64
	}
	if frac > 2.0 {
		e = math.MaxInt64
	}
	return clampPrecision(e)
}
