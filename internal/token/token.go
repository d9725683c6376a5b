// Package token defines the immutable search Token, the pluggable interning
// cache that canonicalises token text, and the delimiter-based tokenizer that
// turns file content into tokens.
package token

// Token is a normalised word. Tokens compare and hash by their text, so two
// tokens with equal text are equal regardless of which Interner produced them.
type Token struct {
	text string
}

// New wraps text without interning it.
func New(text string) Token {
	return Token{text: text}
}

// Text returns the token's word.
func (t Token) Text() string {
	return t.text
}

func (t Token) String() string {
	return t.text
}

// IsZero reports whether t wraps the empty string.
func (t Token) IsZero() bool {
	return t.text == ""
}
