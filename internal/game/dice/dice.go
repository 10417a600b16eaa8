// Package dice provides the randomness abstraction used by game handlers:
// bounded integers and in-place shuffles drawn from a pluggable Source.
package dice

// Source is the randomness primitive every game handler draws from.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// Shuffle permutes n elements in place with Fisher–Yates, calling swap for
// each exchange.
//
// Precondition: src must be non-nil; n >= 0.
// Postcondition: Every permutation of n elements is reachable when src is uniform.
func Shuffle(src Source, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		swap(i, j)
	}
}

// Pick returns a uniformly chosen index in [0, n), or -1 when n <= 0.
func Pick(src Source, n int) int {
	if n <= 0 {
		return -1
	}
	return src.Intn(n)
}
