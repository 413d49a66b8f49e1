// Package jsontok is a small, allocation-free JSON tokenizer for single
// line records.
//
// A record is tokenized into a fixed-size table. Tokens reference byte ranges
// of the source buffer and link to their parent token, so nested values can be
// skipped without recursion. String tokens exclude the surrounding quotes and
// are not unescaped.
package jsontok

import "errors"

// MaxTokens is the default token budget of a record
const MaxTokens = 350

// Tokenizer errors
var (
	// ErrTooManyTokens indicates the record needs more tokens than the budget allows
	ErrTooManyTokens = errors.New("too many JSON tokens")

	// ErrMalformedInput indicates invalid or truncated JSON
	ErrMalformedInput = errors.New("malformed JSON input")

	// ErrNotObject indicates the record (or the looked up token) is not an object
	ErrNotObject = errors.New("JSON value is not an object")
)

// Type is the kind of a token
type Type uint8

// Token types
const (
	Undefined Type = iota
	Object
	Array
	String
	Primitive
)

func (t Type) String() string {
	switch t {
	case Object:
		return "object"
	case Array:
		return "array"
	case String:
		return "string"
	case Primitive:
		return "primitive"
	default:
		return "undefined"
	}
}

// Token is one entry of the token table. Start and End are byte offsets into
// the parsed buffer (End exclusive). Size is the number of direct items of an
// object or array, and Parent is the index of the enclosing token or -1.
type Token struct {
	Type   Type
	Start  int
	End    int
	Size   int
	Parent int
}

// Record is a parsed JSON object backed by a fixed token table.
// A Record is reused across parses and is not safe for concurrent use.
type Record struct {
	buf  []byte
	toks []Token
	n    int

	super int
}

// NewRecord creates a record with the given token budget
func NewRecord(budget int) *Record {
	if budget <= 0 {
		budget = MaxTokens
	}
	return &Record{toks: make([]Token, budget)}
}

// Parse tokenizes buf. The top level value must be an object. On failure
// the record holds no tokens. buf must not be modified while the record is
// in use.
func (r *Record) Parse(buf []byte) error {
	if r.toks == nil {
		r.toks = make([]Token, MaxTokens)
	}
	r.buf = nil
	r.n = 0
	r.super = -1

	n, err := r.tokenize(buf)
	if err != nil {
		r.n = 0
		return err
	}
	if n == 0 {
		return ErrMalformedInput
	}
	if r.toks[0].Type != Object {
		r.n = 0
		return ErrNotObject
	}
	r.buf = buf
	return nil
}

// Len returns the number of tokens of the last successful parse
func (r *Record) Len() int {
	return r.n
}

// Token returns token i
func (r *Record) Token(i int) Token {
	return r.toks[i]
}

// Tokens returns a read-only view of the token table
func (r *Record) Tokens() []Token {
	return r.toks[:r.n]
}

// Text returns the bytes covered by token i
func (r *Record) Text(i int) []byte {
	if i < 0 || i >= r.n {
		return nil
	}
	t := r.toks[i]
	return r.buf[t.Start:t.End]
}

// Skip returns the index of the first token after the subtree rooted at i.
// Object sizes count key/value pairs, so an object contributes two pending
// tokens per item and an array one.
func (r *Record) Skip(i int) int {
	if i < 0 || i >= r.n {
		return i
	}
	for pending := 1; pending > 0 && i < r.n; i++ {
		pending--
		switch t := &r.toks[i]; t.Type {
		case Object:
			pending += 2 * t.Size
		case Array:
			pending += t.Size
		}
	}
	return i
}

func (r *Record) alloc(start, end int, typ Type) (int, error) {
	if r.n >= len(r.toks) {
		return -1, ErrTooManyTokens
	}
	i := r.n
	r.n++
	r.toks[i] = Token{Type: typ, Start: start, End: end, Parent: -1}
	return i, nil
}

// attach links token i to the current enclosing token
func (r *Record) attach(i int) {
	if r.super != -1 {
		r.toks[r.super].Size++
		r.toks[i].Parent = r.super
	}
}

func (r *Record) tokenize(buf []byte) (int, error) {
	for pos := 0; pos < len(buf); pos++ {
		switch c := buf[pos]; c {
		case '{', '[':
			typ := Object
			if c == '[' {
				typ = Array
			}
			i, err := r.alloc(pos, -1, typ)
			if err != nil {
				return 0, err
			}
			r.attach(i)
			r.super = i

		case '}', ']':
			typ := Object
			if c == ']' {
				typ = Array
			}
			if err := r.close(pos, typ); err != nil {
				return 0, err
			}

		case '"':
			end, err := scanString(buf, pos)
			if err != nil {
				return 0, err
			}
			i, err := r.alloc(pos+1, end, String)
			if err != nil {
				return 0, err
			}
			r.attach(i)
			pos = end

		case '\t', '\r', '\n', ' ':

		case ':':
			r.super = r.n - 1

		case ',':
			if r.super != -1 {
				if t := r.toks[r.super].Type; t != Array && t != Object {
					r.super = r.toks[r.super].Parent
				}
			}

		default:
			end, err := scanPrimitive(buf, pos)
			if err != nil {
				return 0, err
			}
			i, err := r.alloc(pos, end, Primitive)
			if err != nil {
				return 0, err
			}
			r.attach(i)
			pos = end - 1
		}
	}

	for i := r.n - 1; i >= 0; i-- {
		if r.toks[i].Start != -1 && r.toks[i].End == -1 {
			return 0, ErrMalformedInput
		}
	}
	return r.n, nil
}

// close finds the innermost open compound token and ends it at pos
func (r *Record) close(pos int, typ Type) error {
	if r.n < 1 {
		return ErrMalformedInput
	}
	t := &r.toks[r.n-1]
	for {
		if t.Start != -1 && t.End == -1 {
			if t.Type != typ {
				return ErrMalformedInput
			}
			t.End = pos + 1
			r.super = t.Parent
			return nil
		}
		if t.Parent == -1 {
			if t.Type != typ || r.super == -1 {
				return ErrMalformedInput
			}
			return nil
		}
		t = &r.toks[t.Parent]
	}
}

// scanString returns the offset of the closing quote of the string opened at pos
func scanString(buf []byte, pos int) (int, error) {
	for pos++; pos < len(buf); pos++ {
		switch buf[pos] {
		case '"':
			return pos, nil
		case '\\':
			if pos+1 >= len(buf) {
				return 0, ErrMalformedInput
			}
			pos++
			switch buf[pos] {
			case '"', '/', '\\', 'b', 'f', 'r', 'n', 't':
			case 'u':
				for k := 0; k < 4; k++ {
					pos++
					if pos >= len(buf) || !isHex(buf[pos]) {
						return 0, ErrMalformedInput
					}
				}
			default:
				return 0, ErrMalformedInput
			}
		}
	}
	return 0, ErrMalformedInput
}

// scanPrimitive returns the end offset of the bare value starting at pos
func scanPrimitive(buf []byte, pos int) (int, error) {
	for ; pos < len(buf); pos++ {
		switch c := buf[pos]; c {
		case '\t', '\r', '\n', ' ', ',', ']', '}', ':':
			return pos, nil
		default:
			if c < 32 || c >= 127 {
				return 0, ErrMalformedInput
			}
		}
	}
	return pos, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
