package resolver

// TokenPool rotates through interchangeable search credentials. A token that
// is rejected once is never used again in the same run.
//
// Only the resolver goroutine touches a pool, so it has no lock.
type TokenPool struct {
	tokens    []string
	cursor    int
	exhausted int
}

func NewTokenPool(tokens []string) *TokenPool {
	return &TokenPool{tokens: append([]string(nil), tokens...)}
}

// Current returns the token to use next. ok is false once every token has been
// exhausted, and for an empty pool.
func (p *TokenPool) Current() (token string, ok bool) {
	if p.Exhausted() {
		return "", false
	}
	return p.tokens[p.cursor], true
}

// MarkExhausted retires the current token and moves to the next one. It
// reports whether the pool is now fully exhausted.
func (p *TokenPool) MarkExhausted() bool {
	if p.Exhausted() {
		return true
	}
	p.exhausted++
	if !p.Exhausted() {
		p.cursor = (p.cursor + 1) % len(p.tokens)
	}
	return p.Exhausted()
}

func (p *TokenPool) Exhausted() bool {
	return p.exhausted >= len(p.tokens)
}

func (p *TokenPool) Cursor() int {
	return p.cursor
}

func (p *TokenPool) ExhaustedCount() int {
	return p.exhausted
}

func (p *TokenPool) Len() int {
	return len(p.tokens)
}
