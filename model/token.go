package model

// Token is a vocabulary id bound to its absolute position in the sequence.
type Token struct {
	ID  int32
	Pos int32
}

// Tokens binds ids to consecutive positions starting at from.
func Tokens(from int32, ids ...int32) []Token {
	out := make([]Token, len(ids))
	for i, id := range ids {
		out[i] = Token{ID: id, Pos: from + int32(i)}
	}
	return out
}

// IDs strips positions.
func IDs(tokens []Token) []int32 {
	out := make([]int32, len(tokens))
	for i, t := range tokens {
		out[i] = t.ID
	}
	return out
}
