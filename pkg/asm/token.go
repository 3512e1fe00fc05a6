package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type TokenKind uint8

const (
	// TokLabel is a label declaration ("name:").
	TokLabel TokenKind = iota
	TokMnemonic
	TokInteger
	// TokReference is a label name used as an operand.
	TokReference
)

func (k TokenKind) String() string {
	switch k {
	case TokLabel:
		return "label"
	case TokMnemonic:
		return "mnemonic"
	case TokInteger:
		return "integer"
	case TokReference:
		return "label reference"
	}
	return fmt.Sprintf("TokenKind(%d)", k)
}

type Token struct {
	Kind  TokenKind
	Text  string
	Value int64
	Line  int
}

// Tokenize splits source into a flat token stream, in line order. Blank and
// comment-only lines produce no tokens.
//
// Each line has the form
//
//	[label ':'] [mnemonic [operand (',' operand)*]]
//
// where an operand is an integer literal or a label name and '#' starts a
// comment.
func Tokenize(source string) ([]Token, error) {
	var tokens []Token
	for i, raw := range strings.Split(source, "\n") {
		lineTokens, err := parseLine(raw, i+1)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, lineTokens...)
	}
	return tokens, nil
}

func parseLine(raw string, lineNo int) ([]Token, error) {
	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return nil, nil
	}

	var tokens []Token

	if colon := strings.IndexByte(line, ':'); colon >= 0 {
		label := strings.TrimSpace(line[:colon])
		if label == "" {
			return nil, errorf(lineNo, ErrSyntax, "missing label name before ':'")
		}
		if !isIdentifier(label) {
			return nil, errorf(lineNo, ErrSyntax, "invalid label %q", label)
		}
		tokens = append(tokens, Token{Kind: TokLabel, Text: label, Line: lineNo})

		line = strings.TrimSpace(line[colon+1:])
		if strings.IndexByte(line, ':') >= 0 {
			return nil, errorf(lineNo, ErrSyntax, "only one label is allowed per line")
		}
		if line == "" {
			return tokens, nil
		}
	}

	mnemonic, rest := line, ""
	if sep := strings.IndexFunc(line, unicode.IsSpace); sep >= 0 {
		mnemonic, rest = line[:sep], strings.TrimSpace(line[sep:])
	}
	if !isIdentifier(mnemonic) {
		return nil, errorf(lineNo, ErrSyntax, "expected instruction, found %q", mnemonic)
	}
	tokens = append(tokens, Token{Kind: TokMnemonic, Text: mnemonic, Line: lineNo})

	if rest == "" {
		return tokens, nil
	}

	for _, field := range strings.Split(rest, ",") {
		operand := strings.TrimSpace(field)
		if operand == "" {
			return nil, errorf(lineNo, ErrSyntax, "empty operand")
		}
		tok, err := parseOperand(operand, lineNo)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	return tokens, nil
}

func parseOperand(s string, lineNo int) (Token, error) {
	if isIdentifier(s) {
		return Token{Kind: TokReference, Text: s, Line: lineNo}, nil
	}
	v, err := parseInteger(s)
	if err != nil {
		return Token{}, errorf(lineNo, ErrSyntax, "invalid operand %q", s)
	}
	return Token{Kind: TokInteger, Text: s, Value: v, Line: lineNo}, nil
}

// parseInteger accepts an optional sign followed by a decimal number or a
// 0b/0o/0x prefixed binary, octal or hexadecimal number.
func parseInteger(s string) (int64, error) {
	body := s
	neg := false
	if body != "" && (body[0] == '+' || body[0] == '-') {
		neg = body[0] == '-'
		body = body[1:]
	}

	base := 10
	if len(body) > 2 && body[0] == '0' {
		switch body[1] {
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		case 'x', 'X':
			base = 16
		}
		if base != 10 {
			body = body[2:]
		}
	}

	// strconv would otherwise accept a second sign and '_' separators.
	for _, r := range body {
		if r == '+' || r == '-' || r == '_' {
			return 0, fmt.Errorf("invalid integer literal %q", s)
		}
	}

	u, err := strconv.ParseUint(body, base, 63)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int64(u), nil
	}
	return int64(u), nil
}

func stripComments(line string) string {
	if hash := strings.IndexByte(line, '#'); hash >= 0 {
		return line[:hash]
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}
