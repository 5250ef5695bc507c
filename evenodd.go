package raidxor

// The diagonal parity is an EVENODD code over the prime 17. Each payload is
// split into 16 symbols (rows) and every data position is a column. Row 16
// is imaginary and always zero. Diagonal (d) holds the symbols a[i][j] with
// (i + j) mod 17 == d; diagonal 16 is not stored but its XOR (S) is folded
// into every stored diagonal symbol.

const (
	evenOddPrime      = 17
	evenOddRows       = evenOddPrime - 1
	evenOddSymbolSize = DataBytesPerBlock / evenOddRows

	// evenOddMaxColumns is the most data positions a strip can have.
	evenOddMaxColumns = MaxPositions - 2
)

type evenOddSymbol [evenOddSymbolSize]byte

func (eos *evenOddSymbol) xor(b []byte) {
	xorBytes(eos[:], b)
}

// evenOddTables are fixed and shared by every request.
type evenOddTables struct {
	// diagonal[i][j] is the diagonal that holds row (i) of column (j).
	diagonal [evenOddRows][MaxPositions]int

	// chains[delta] is the order in which rows are recovered when two
	// columns (delta) apart are missing.
	chains [evenOddPrime][]int
}

func newEvenOddTables() *evenOddTables {
	eot := new(evenOddTables)

	for i := 0; i < evenOddRows; i++ {
		for j := 0; j < MaxPositions; j++ {
			eot.diagonal[i][j] = (i + j) % evenOddPrime
		}
	}

	for delta := 1; delta < evenOddPrime; delta++ {
		chain := make([]int, 0, evenOddRows)

		k := evenOddPrime - 1 - delta
		for k != evenOddRows {
			chain = append(chain, k)
			k = (k - delta + evenOddPrime) % evenOddPrime
		}

		eot.chains[delta] = chain
	}

	return eot
}

// symbol returns row (i) of a payload.
func symbol(b []byte, i int) []byte {
	return b[i*evenOddSymbolSize : (i+1)*evenOddSymbolSize]
}

// xorColumn XORs the contribution of data column (j) into the diagonal
// parity payload (q). The code is linear, so this also applies deltas.
func (eot *evenOddTables) xorColumn(q, column []byte, j int) {
	for i := 0; i < evenOddRows; i++ {
		src := symbol(column, i)

		if d := eot.diagonal[i][j]; d != evenOddRows {
			xorBytes(symbol(q, d), src)
			continue
		}

		for d := 0; d < evenOddRows; d++ {
			xorBytes(symbol(q, d), src)
		}
	}
}

// encodeDiagonal sets the payload of (q) to the diagonal parity of the
// columns.
func (eot *evenOddTables) encodeDiagonal(q Sector, columns [][]byte) {
	data := q[:DataBytesPerBlock]
	for i := range data {
		data[i] = 0
	}

	for j, column := range columns {
		eot.xorColumn(data, column, j)
	}
}

// partialDiagonals returns the XOR of every diagonal over the columns not in
// (skip).
func (eot *evenOddTables) partialDiagonals(columns [][]byte, skip ...int) (diagonals [evenOddPrime]evenOddSymbol) {
	for j, column := range columns {
		skipped := false
		for _, s := range skip {
			if s == j {
				skipped = true
				break
			}
		}

		if skipped == true {
			continue
		}

		for i := 0; i < evenOddRows; i++ {
			diagonals[eot.diagonal[i][j]].xor(symbol(column, i))
		}
	}

	return diagonals
}

// recoverFromRow rebuilds column (r) from the row parity (p).
func recoverFromRow(columns [][]byte, p []byte, r int) {
	target := columns[r]
	copy(target, p[:DataBytesPerBlock])

	for j, column := range columns {
		if j != r {
			xorBytes(target, column)
		}
	}
}

// recoverFromDiagonal rebuilds column (r) from the diagonal parity (q) when
// the row parity is not available.
func (eot *evenOddTables) recoverFromDiagonal(columns [][]byte, q []byte, r int) {
	diagonals := eot.partialDiagonals(columns, r)

	// Diagonal r-1 crosses column r on the imaginary row, so it yields S.
	var s evenOddSymbol
	if r == 0 {
		s = diagonals[evenOddRows]
	} else {
		copy(s[:], symbol(q, r-1))
		s.xor(diagonals[r-1][:])
	}

	target := columns[r]
	for i := 0; i < evenOddRows; i++ {
		out := symbol(target, i)
		d := eot.diagonal[i][r]

		copy(out, s[:])
		xorBytes(out, diagonals[d][:])

		if d != evenOddRows {
			xorBytes(out, symbol(q, d))
		}
	}
}

// recoverPair rebuilds columns (r) and (s), r < s, from both parities.
func (eot *evenOddTables) recoverPair(columns [][]byte, p, q []byte, r, s int) {
	// The stored diagonals each carry S once and there is an even number of
	// them, so S is the XOR of every parity symbol.
	var adjuster evenOddSymbol
	for i := 0; i < evenOddRows; i++ {
		adjuster.xor(symbol(p, i))
		adjuster.xor(symbol(q, i))
	}

	diagonals := eot.partialDiagonals(columns, r, s)

	// Row syndromes: a[i][r] ^ a[i][s].
	var rows [evenOddPrime]evenOddSymbol
	for i := 0; i < evenOddRows; i++ {
		copy(rows[i][:], symbol(p, i))
	}

	for j, column := range columns {
		if j == r || j == s {
			continue
		}

		for i := 0; i < evenOddRows; i++ {
			rows[i].xor(symbol(column, i))
		}
	}

	// Diagonal syndromes: a[d-r][r] ^ a[d-s][s].
	var syndromes [evenOddPrime]evenOddSymbol
	for d := 0; d < evenOddPrime; d++ {
		syndromes[d] = adjuster
		syndromes[d].xor(diagonals[d][:])

		if d != evenOddRows {
			syndromes[d].xor(symbol(q, d))
		}
	}

	delta := s - r
	for _, k := range eot.chains[delta] {
		outS := symbol(columns[s], k)
		copy(outS, syndromes[(s+k)%evenOddPrime][:])

		if partner := (k + delta) % evenOddPrime; partner != evenOddRows {
			xorBytes(outS, symbol(columns[r], partner))
		}

		outR := symbol(columns[r], k)
		copy(outR, rows[k][:])
		xorBytes(outR, outS)
	}
}
