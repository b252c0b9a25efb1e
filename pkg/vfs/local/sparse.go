package local

// SparseZeroRunSize is the shortest run of zero bytes a sparse write skips
// instead of writing. Shorter runs are not worth a separate system call.
const SparseZeroRunSize = 4096

// segment is a slice of a write buffer classified as data or zeros.
type segment struct {
	offset int
	length int
	zero   bool
}

// splitZeroRuns cuts data into alternating segments. Only zero runs of at
// least minRun bytes become zero segments; shorter ones stay inside the
// surrounding data segment. Adjacent data is merged so the result never holds
// two consecutive data segments.
func splitZeroRuns(data []byte, minRun int) []segment {
	var out []segment
	add := func(s segment) {
		if s.length == 0 {
			return
		}
		if n := len(out); n > 0 && !out[n-1].zero && !s.zero {
			out[n-1].length += s.length
			return
		}
		out = append(out, s)
	}

	start := 0
	i := 0
	for i < len(data) {
		if data[i] != 0 {
			i++
			continue
		}
		j := i
		for j < len(data) && data[j] == 0 {
			j++
		}
		if j-i >= minRun {
			add(segment{offset: start, length: i - start})
			add(segment{offset: i, length: j - i, zero: true})
			start = j
		}
		i = j
	}
	add(segment{offset: start, length: len(data) - start})
	return out
}
