package token

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Delimiters separate words: whitespace, line breaks and common English
// punctuation.
const Delimiters = "\r\n\t,.?!\":; "

// MaxWordLen bounds a single word in bytes. Longer runs without a delimiter,
// such as minified blobs or padding, are skipped and never indexed.
const MaxWordLen = 64 << 10

// Tokenizer splits UTF-8 text on Delimiters and interns every word.
type Tokenizer struct {
	interner  Interner
	lowercase bool
}

// NewTokenizer returns a Tokenizer backed by interner. A nil interner
// disables interning. When lowercase is set, words are folded to lower case
// both at ingest and at query time.
func NewTokenizer(interner Interner, lowercase bool) *Tokenizer {
	if interner == nil {
		interner = PlainInterner{}
	}
	return &Tokenizer{interner: interner, lowercase: lowercase}
}

// Tokenize reads r to the end and returns its words in order of appearance.
// Duplicates are preserved.
func (t *Tokenizer) Tokenize(r io.Reader) ([]Token, error) {
	var split wordSplitter
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, MaxWordLen), 2*MaxWordLen)
	scanner.Split(split.split)

	tokens := make([]Token, 0, 64)
	for scanner.Scan() {
		tokens = append(tokens, t.interner.Intern(t.normalize(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}
	return tokens, nil
}

// TokenizeString is Tokenize over an in-memory string.
func (t *Tokenizer) TokenizeString(s string) []Token {
	tokens, _ := t.Tokenize(strings.NewReader(s))
	return tokens
}

// Query turns a user-supplied search word into the token the index stores
// for it. Only the first word of a multi-word query is used. The word is not
// interned, so lookups never grow the cache.
func (t *Tokenizer) Query(word string) Token {
	var split wordSplitter
	_, first, _ := split.split([]byte(word), true)
	return New(t.normalize(string(first)))
}

func (t *Tokenizer) normalize(word string) string {
	if t.lowercase {
		return strings.ToLower(word)
	}
	return word
}

func isDelimiter(r rune) bool {
	return strings.ContainsRune(Delimiters, r)
}

// wordSplitter yields maximal runs of non-delimiter runes as a
// bufio.SplitFunc. It holds per-stream state, so each Tokenize call uses its
// own.
type wordSplitter struct {
	// skipping is set while discarding a run of MaxWordLen bytes or more.
	skipping bool
}

func (w *wordSplitter) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	offset := 0
	if w.skipping {
		for offset < len(data) {
			r, width := utf8.DecodeRune(data[offset:])
			if isDelimiter(r) {
				break
			}
			offset += width
		}
		if offset == len(data) {
			return offset, nil, nil
		}
		w.skipping = false
		data = data[offset:]
	}

	start := 0
	for start < len(data) {
		r, width := utf8.DecodeRune(data[start:])
		if !isDelimiter(r) {
			break
		}
		start += width
	}
	for i := start; i < len(data); {
		r, width := utf8.DecodeRune(data[i:])
		if isDelimiter(r) {
			return offset + i + width, data[start:i], nil
		}
		i += width
	}
	if len(data)-start >= MaxWordLen {
		w.skipping = true
		return offset + len(data), nil, nil
	}
	if atEOF && len(data) > start {
		return offset + len(data), data[start:], nil
	}
	// Request more data, keeping the partial word.
	return offset + start, nil, nil
}
