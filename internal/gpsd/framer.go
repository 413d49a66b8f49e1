package gpsd

// Framer assembles newline terminated records from a byte stream.
//
// Leading whitespace of a line is dropped and trailing control and space
// characters are trimmed. Bytes arriving after the buffer filled up are
// discarded until the next newline, so an overlong record is delivered
// truncated.
type Framer struct {
	buf []byte
	n   int
}

// NewFramer creates a framer holding lines of up to size bytes
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = MaxLineLength
	}
	return &Framer{buf: make([]byte, size)}
}

// Feed appends data and calls emit for every completed line. The line slice
// is only valid during the call.
func (f *Framer) Feed(data []byte, emit func(line []byte)) {
	for _, ch := range data {
		if ch == '\n' {
			for f.n > 0 && f.buf[f.n-1] <= ' ' {
				f.n--
			}
			line := f.buf[:f.n]
			f.n = 0
			emit(line)
			continue
		}
		if f.n < len(f.buf) && (ch > ' ' || f.n != 0) {
			f.buf[f.n] = ch
			f.n++
		}
	}
}

// Len returns the number of buffered bytes of the incomplete line
func (f *Framer) Len() int {
	return f.n
}

// Reset drops any partial line
func (f *Framer) Reset() {
	f.n = 0
}
