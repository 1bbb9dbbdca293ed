package snsgw

// Map applies fn to every element of s and collects the results.
func Map[E, F any](s []E, fn func(E) F) []F {
	out := make([]F, len(s))
	for i, v := range s {
		out[i] = fn(v)
	}
	return out
}
