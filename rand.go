package rbperf

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand/v2"
	"sync"
)

// defaultRandUint32 draws a fresh 32-bit id the way bpf_get_prandom_u32
// would: no cross-CPU coordination, just a pseudo-random draw. A counter is
// deliberately not used here -- see DESIGN.md for the id-collision tradeoff.
var (
	randMu  sync.Mutex
	randSrc = mathrand.New(mathrand.NewPCG(seedFromCrypto(), seedFromCrypto()))
)

func seedFromCrypto() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.LittleEndian.Uint64(b[:])
}

func defaultRandUint32() uint32 {
	randMu.Lock()
	defer randMu.Unlock()
	return randSrc.Uint32()
}
