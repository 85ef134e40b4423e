package codebundle

// Edit replaces the inclusive line range [StartLine, EndLine] of a file.
// Original is the exact text the range held when the edit was computed;
// Replacement may hold more or fewer lines (an insertion replaces one line
// with itself plus the new line).
type Edit struct {
	StartLine   int
	EndLine     int
	Original    []string
	Replacement []string
}

// Delta is the change in line count applying the edit causes.
func (e *Edit) Delta() int {
	return len(e.Replacement) - len(e.Original)
}

// Overlaps reports whether two edits touch a common line.
func (e *Edit) Overlaps(o *Edit) bool {
	return e.StartLine <= o.EndLine && o.StartLine <= e.EndLine
}
