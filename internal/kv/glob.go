package kv

// globMatch reports whether key matches a Redis-style glob: '*' matches any
// run of bytes, '?' one byte, '[...]' a class ('^' negates, 'a-z' is a
// range) and '\' escapes the next byte. No byte acts as a separator, so
// "tag:*" matches "tag:category:a/b" exactly as SCAN MATCH does.
func globMatch(pattern, key string) bool {
	p, k := 0, 0
	starP, starK := -1, 0
	for k < len(key) {
		if p < len(pattern) {
			if pattern[p] == '*' {
				starP, starK = p, k
				p++
				continue
			}
			if n, ok := matchToken(pattern[p:], key[k]); ok {
				p += n
				k++
				continue
			}
		}
		if starP < 0 {
			return false
		}
		// Let the last '*' absorb one more byte and retry.
		starK++
		p, k = starP+1, starK
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchToken matches the single non-star token at the start of pat against
// c and returns how many pattern bytes it spans.
func matchToken(pat string, c byte) (int, bool) {
	switch pat[0] {
	case '?':
		return 1, true
	case '\\':
		if len(pat) > 1 {
			return 2, pat[1] == c
		}
		return 1, c == '\\'
	case '[':
		return matchClass(pat, c)
	default:
		return 1, pat[0] == c
	}
}

func matchClass(pat string, c byte) (int, bool) {
	i := 1
	negate := false
	if i < len(pat) && pat[i] == '^' {
		negate = true
		i++
	}
	matched := false
	for i < len(pat) && pat[i] != ']' {
		switch {
		case pat[i] == '\\' && i+1 < len(pat):
			if pat[i+1] == c {
				matched = true
			}
			i += 2
		case i+2 < len(pat) && pat[i+1] == '-' && pat[i+2] != ']':
			lo, hi := pat[i], pat[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
		default:
			if pat[i] == c {
				matched = true
			}
			i++
		}
	}
	if i < len(pat) {
		i++ // closing ']'
	}
	return i, matched != negate
}
