// Package fec implements the Reed-Solomon forward error correction used to
// protect video shards on the wire: systematic encoding over GF(256),
// producing the exact parity bytes Moonlight's decoder reconstructs lost
// shards from.
package fec

import (
	"errors"
	"sync"
)

const (
	// gfBits is the number of bits in the Galois field.
	gfBits = 8
	// gfPP is the primitive polynomial for GF(2^8).
	gfPP = "101110001"
	// gfSize is 2^gfBits - 1.
	gfSize = (1 << gfBits) - 1
	// DataShardsMax is the maximum number of data+parity shards a single
	// Reed-Solomon block can carry (GF(256) limit).
	DataShardsMax = 255
)

// ErrTooManyShards is returned when the requested data+parity shard count
// would exceed DataShardsMax. Callers drop the frame and rely on the client
// requesting an IDR refresh to recover.
var ErrTooManyShards = errors.New("fec: too many shards")

type gf = uint8

var (
	gfExp     [2 * gfSize]gf
	gfLog     [gfSize + 1]int
	gfInverse [gfSize + 1]gf
	gfMulTbl  [(gfSize + 1) * (gfSize + 1)]gf

	tablesOnce sync.Once
)

func initTables() {
	tablesOnce.Do(func() {
		generateGF()
		initMulTable()
	})
}

// Shards is the contiguous output of an Encode call: data_shards+parity_shards
// fixed-size blocks packed back to back in one buffer.
type Shards struct {
	DataShards   int
	ParityShards int
	BlockSize    int
	buf          []byte
}

// Total returns the number of shards (data + parity).
func (s *Shards) Total() int {
	return s.DataShards + s.ParityShards
}

// Shard returns the byte slice for shard i, a view into the single buffer.
func (s *Shards) Shard(i int) []byte {
	return s.buf[i*s.BlockSize : (i+1)*s.BlockSize]
}

// matrixCache caches the generator matrix per (dataShards, parityShards)
// shape, since it depends only on the shape, not on payload content.
var (
	matrixCacheMu sync.Mutex
	matrixCache   = map[[2]int]*genMatrix{}
)

type genMatrix struct {
	dataShards int
	parity     []gf // parityShards*dataShards, row-major
}

// Encode produces a Shards set for payload: ceil(len(payload)/blockSize) data
// shards holding the payload (zero-padded to the last shard boundary) plus
// ceil(dataShards*fecPercentage/100) parity shards computed by systematic
// Reed-Solomon encoding over GF(256). The call allocates exactly one
// contiguous buffer and is deterministic and side-effect free.
func Encode(payload []byte, blockSize, fecPercentage int) (*Shards, error) {
	initTables()

	dataShards := (len(payload) + blockSize - 1) / blockSize
	if dataShards == 0 {
		dataShards = 1
	}
	parityShards := (dataShards*fecPercentage + 99) / 100
	total := dataShards + parityShards
	if total > DataShardsMax {
		return nil, ErrTooManyShards
	}

	buf := make([]byte, total*blockSize)
	copy(buf, payload)

	mat := generatorMatrix(dataShards, parityShards)

	shards := &Shards{
		DataShards:   dataShards,
		ParityShards: parityShards,
		BlockSize:    blockSize,
		buf:          buf,
	}

	dataRows := make([][]byte, dataShards)
	for i := 0; i < dataShards; i++ {
		dataRows[i] = shards.Shard(i)
	}
	parityRows := make([][]byte, parityShards)
	for i := 0; i < parityShards; i++ {
		parityRows[i] = shards.Shard(dataShards + i)
	}

	codeSomeShards(mat.parity, dataRows, parityRows, dataShards, parityShards, blockSize)

	return shards, nil
}

// generatorMatrix returns (and caches) the parity rows of the systematic
// encoding matrix for the given shape.
func generatorMatrix(dataShards, parityShards int) *genMatrix {
	key := [2]int{dataShards, parityShards}

	matrixCacheMu.Lock()
	defer matrixCacheMu.Unlock()

	if m, ok := matrixCache[key]; ok {
		return m
	}

	total := dataShards + parityShards

	vm := make([]gf, dataShards*total)
	for row := 0; row < total; row++ {
		for col := 0; col < dataShards; col++ {
			if row == col {
				vm[row*dataShards+col] = 1
			}
		}
	}

	top := subMatrix(vm, 0, 0, dataShards, dataShards, dataShards)
	invertMatrix(top, dataShards)

	full := multiply(vm, total, dataShards, top, dataShards, dataShards)

	for j := 0; j < parityShards; j++ {
		for i := 0; i < dataShards; i++ {
			full[(dataShards+j)*dataShards+i] = gfInverse[(parityShards+i)^j]
		}
	}

	parity := subMatrix(full, dataShards, 0, total, dataShards, dataShards)

	m := &genMatrix{dataShards: dataShards, parity: parity}
	matrixCache[key] = m
	return m
}

func modnn(x int) gf {
	for x >= gfSize {
		x -= gfSize
		x = (x >> gfBits) + (x & gfSize)
	}
	return gf(x)
}

func generateGF() {
	var mask gf = 1
	gfExp[gfBits] = 0

	for i := 0; i < gfBits; i++ {
		gfExp[i] = mask
		gfLog[gfExp[i]] = i
		if gfPP[i] == '1' {
			gfExp[gfBits] ^= mask
		}
		mask <<= 1
	}

	gfLog[gfExp[gfBits]] = gfBits
	mask = 1 << (gfBits - 1)

	for i := gfBits + 1; i < gfSize; i++ {
		if gfExp[i-1] >= mask {
			gfExp[i] = gfExp[gfBits] ^ ((gfExp[i-1] ^ mask) << 1)
		} else {
			gfExp[i] = gfExp[i-1] << 1
		}
		gfLog[gfExp[i]] = i
	}

	gfLog[0] = gfSize

	for i := 0; i < gfSize; i++ {
		gfExp[i+gfSize] = gfExp[i]
	}

	gfInverse[0] = 0
	gfInverse[1] = 1
	for i := 2; i <= gfSize; i++ {
		gfInverse[i] = gfExp[gfSize-gfLog[i]]
	}
}

func initMulTable() {
	for i := 0; i < gfSize+1; i++ {
		for j := 0; j < gfSize+1; j++ {
			gfMulTbl[(i<<8)+j] = gfExp[modnn(gfLog[i]+gfLog[j])]
		}
	}
	for j := 0; j < gfSize+1; j++ {
		gfMulTbl[j] = 0
		gfMulTbl[j<<8] = 0
	}
}

func gfMul(x, y gf) gf {
	return gfMulTbl[(int(x)<<8)+int(y)]
}

func addmul(dst, src []gf, c gf) {
	if c == 0 {
		return
	}
	tbl := gfMulTbl[int(c)<<8:]
	for i := range dst {
		dst[i] ^= tbl[src[i]]
	}
}

func mul(dst, src []gf, c gf) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	tbl := gfMulTbl[int(c)<<8:]
	for i := range dst {
		dst[i] = tbl[src[i]]
	}
}

func invertMatrix(src []gf, k int) {
	indxc := make([]int, k)
	indxr := make([]int, k)
	ipiv := make([]int, k)
	idRow := make([]gf, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1

		if ipiv[col] != 1 && src[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for row := 0; row < k && icol == -1; row++ {
				if ipiv[row] != 1 {
					for ix := 0; ix < k; ix++ {
						if ipiv[ix] == 0 && src[row*k+ix] != 0 {
							irow, icol = row, ix
							break
						}
					}
				}
			}
		}

		ipiv[icol]++

		if irow != icol {
			for ix := 0; ix < k; ix++ {
				src[irow*k+ix], src[icol*k+ix] = src[icol*k+ix], src[irow*k+ix]
			}
		}

		indxr[col] = irow
		indxc[col] = icol

		pivotRow := src[icol*k : (icol+1)*k]
		c := pivotRow[icol]

		if c != 1 {
			c = gfInverse[c]
			pivotRow[icol] = 1
			for ix := 0; ix < k; ix++ {
				pivotRow[ix] = gfMul(c, pivotRow[ix])
			}
		}

		idRow[icol] = 1
		pivotIsIdentity := true
		for ix := 0; ix < k; ix++ {
			if pivotRow[ix] != idRow[ix] {
				pivotIsIdentity = false
				break
			}
		}

		if !pivotIsIdentity {
			for ix := 0; ix < k; ix++ {
				if ix != icol {
					p := src[ix*k : (ix+1)*k]
					c := p[icol]
					p[icol] = 0
					addmul(p, pivotRow, c)
				}
			}
		}
		idRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if indxr[col] != indxc[col] {
			for row := 0; row < k; row++ {
				src[row*k+indxr[col]], src[row*k+indxc[col]] = src[row*k+indxc[col]], src[row*k+indxr[col]]
			}
		}
	}
}

func subMatrix(matrix []gf, rmin, cmin, rmax, cmax, ncols int) []gf {
	out := make([]gf, (rmax-rmin)*(cmax-cmin))
	ptr := 0
	for i := rmin; i < rmax; i++ {
		for j := cmin; j < cmax; j++ {
			out[ptr] = matrix[i*ncols+j]
			ptr++
		}
	}
	return out
}

func multiply(a []gf, ar, ac int, b []gf, _, bc int) []gf {
	out := make([]gf, ar*bc)
	for r := 0; r < ar; r++ {
		for c := 0; c < bc; c++ {
			var acc gf
			for i := 0; i < ac; i++ {
				acc ^= gfMul(a[r*ac+i], b[i*bc+c])
			}
			out[r*bc+c] = acc
		}
	}
	return out
}

func codeSomeShards(matrixRows []gf, inputs, outputs [][]byte, dataShards, outputCount, blockSize int) {
	for c := 0; c < dataShards; c++ {
		in := inputs[c]
		for row := 0; row < outputCount; row++ {
			if c == 0 {
				mul(outputs[row], in, matrixRows[row*dataShards+c])
			} else {
				addmul(outputs[row], in, matrixRows[row*dataShards+c])
			}
		}
	}
}
