// Package ot implements the operational transform algebra for plain
// text: applying insert/delete operations to a document and
// transforming concurrent operations so they converge regardless of
// the order they are applied in.
package ot

// Op is a single atomic edit. Ops are immutable values; Transform
// returns adjusted copies rather than mutating.
type Op interface {
	// Apply splices the edit into s. Positions are clamped into the
	// document bounds, so Apply is total over well-formed ops.
	Apply(s string) string

	// AuthorID identifies the client that authored the edit. Used to
	// break ties between inserts at the same position.
	AuthorID() string
}

// Insert adds Text at offset Pos.
type Insert struct {
	Pos    int
	Text   string
	Author string
}

func (op Insert) Apply(s string) string {
	pos := clamp(op.Pos, 0, len(s))
	return s[:pos] + op.Text + s[pos:]
}

func (op Insert) AuthorID() string { return op.Author }

// Delete removes Length bytes starting at offset Pos.
type Delete struct {
	Pos    int
	Length int
	Author string
}

func (op Delete) Apply(s string) string {
	pos := clamp(op.Pos, 0, len(s))
	end := clamp(pos+max(op.Length, 0), pos, len(s))
	return s[:pos] + s[end:]
}

func (op Delete) AuthorID() string { return op.Author }

// Transform rebases op as if against had already been applied to the
// document op was authored on. For any two ops a, b authored on the
// same document,
//
//	Apply(Apply(doc, a), Transform(b, a)) == Apply(Apply(doc, b), Transform(a, b))
//
// which is what lets the server apply concurrent edits in arrival
// order and still have every replica converge.
func Transform(op, against Op) Op {
	switch o := op.(type) {
	case Insert:
		switch a := against.(type) {
		case Insert:
			// Equal positions tie-break on author id so both sides
			// compute the same ordering without coordination.
			if a.Pos < o.Pos || (a.Pos == o.Pos && a.Author < o.Author) {
				o.Pos += len(a.Text)
			}
			return o
		case Delete:
			aEnd := a.Pos + a.Length
			switch {
			case o.Pos <= a.Pos:
				// Before the deleted range: unchanged.
			case o.Pos >= aEnd:
				o.Pos -= a.Length
			default:
				// Inside the deleted range: land at the collapse point.
				o.Pos = a.Pos
			}
			return o
		}
	case Delete:
		switch a := against.(type) {
		case Insert:
			oEnd := o.Pos + o.Length
			switch {
			case a.Pos >= oEnd:
				// Past the range: unchanged.
			case a.Pos <= o.Pos:
				o.Pos += len(a.Text)
			default:
				// An insert into the middle of the range is absorbed:
				// the delete's intent ("remove this span") wins over
				// the concurrent insertion into that span.
				o.Length += len(a.Text)
			}
			return o
		case Delete:
			overlap := min(o.Pos+o.Length, a.Pos+a.Length) - max(o.Pos, a.Pos)
			if overlap > 0 {
				o.Length = max(o.Length-overlap, 0)
			}
			if o.Pos >= a.Pos {
				o.Pos -= min(o.Pos-a.Pos, a.Length)
			}
			return o
		}
	}
	return op
}

// AdjustCursor carries a caret position through one committed op. An
// insert at exactly the caret position moves the caret only when the
// viewer authored it: my caret stays put while someone else types at
// it, but follows my own typing.
func AdjustCursor(pos int, op Op, viewerAuthor string) int {
	switch o := op.(type) {
	case Insert:
		if o.Pos < pos || (o.Pos == pos && o.Author == viewerAuthor) {
			pos += len(o.Text)
		}
	case Delete:
		oEnd := o.Pos + o.Length
		switch {
		case oEnd <= pos:
			pos -= o.Length
		case o.Pos < pos:
			pos = o.Pos
		}
	}
	return max(pos, 0)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
