package ledb

import "bytes"

// rawRange defines a range of byte strings over a bucket with unique keys.
// Lower/Upper are exact bounds with per-end inclusivity; Prefix restricts
// the walk to keys starting with the given bytes and is mutually exclusive
// with the bounds. Reverse walks from the upper end down.
type rawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func rangeAll() rawRange               { return rawRange{} }
func rangePrefix(p []byte) rawRange    { return rawRange{Prefix: p} }
func rangeLower(l []byte, inc bool) rawRange {
	return rawRange{Lower: l, LowerInc: inc}
}
func rangeUpper(u []byte, inc bool) rawRange {
	return rawRange{Upper: u, UpperInc: inc}
}
func rangeBetween(l []byte, linc bool, u []byte, uinc bool) rawRange {
	return rawRange{Lower: l, LowerInc: linc, Upper: u, UpperInc: uinc}
}

// empty reports whether the bounds exclude every possible key.
func (r *rawRange) empty() bool {
	if r.Lower == nil || r.Upper == nil {
		return false
	}
	switch cmp := bytes.Compare(r.Lower, r.Upper); {
	case cmp > 0:
		return true
	case cmp == 0:
		return !(r.LowerInc && r.UpperInc)
	}
	return false
}

func (r *rawRange) start(bcur kvCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		switch {
		case r.Prefix != nil:
			k, v = bcur.SeekLast(r.Prefix)
		case r.Upper != nil:
			k, v = bcur.Seek(r.Upper)
			if k == nil {
				k, v = bcur.Last()
			} else if !(r.UpperInc && bytes.Equal(k, r.Upper)) {
				k, v = bcur.Prev()
			}
		default:
			k, v = bcur.Last()
		}
	} else {
		switch {
		case r.Prefix != nil:
			k, v = bcur.Seek(r.Prefix)
		case r.Lower != nil:
			k, v = bcur.Seek(r.Lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
				k, v = bcur.Next()
			}
		default:
			k, v = bcur.First()
		}
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(bcur kvCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) match(k []byte) bool {
	if r.Prefix != nil {
		return bytes.HasPrefix(k, r.Prefix)
	}
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp < 0 || (cmp == 0 && !r.LowerInc) {
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp > 0 || (cmp == 0 && !r.UpperInc) {
				return false
			}
		}
	}
	return true
}

type rangeCursor struct {
	rang rawRange
	bcur kvCursor
	k, v []byte
	init bool
}

func (r rawRange) newCursor(bcur kvCursor) *rangeCursor {
	return &rangeCursor{rang: r, bcur: bcur}
}

func (c *rangeCursor) Next() bool {
	if c.rang.empty() {
		return false
	}
	if c.init {
		c.k, c.v = c.rang.next(c.bcur)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur)
	}
	return c.k != nil
}

func (c *rangeCursor) Key() []byte   { return c.k }
func (c *rangeCursor) Value() []byte { return c.v }
