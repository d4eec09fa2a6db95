package session

import (
	"encoding/binary"

	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/zeebo/xxh3"
)

// StopReason tells why a session ended.
type StopReason string

const (
	StopMaxTokens StopReason = "max_new_tokens"
	StopToken     StopReason = "stop_token"
	StopCancelled StopReason = "cancelled"
	StopFailed    StopReason = "failed"
)

// Result is the output of one session.
type Result struct {
	ID          string
	Tokens      []model.Token // generated tokens only, the prompt excluded
	Diagnostics Diagnostics
}

// IDs returns the generated token ids.
func (r *Result) IDs() []int32 { return model.IDs(r.Tokens) }

type Diagnostics struct {
	Policy    string  // decode policy after hybrid selection
	Selection float64 // recovery estimate that selected Policy

	Rounds         int
	Proposed       int
	Accepted       int
	AcceptanceRate float64 // accepted over proposed drafts

	MeanCompression  float64 // mean occupied/budget of the target cache after each round
	FinalCompression float64
	MeanRecovered    float64 // mean recovered attention mass after each round's eviction

	PromptEvicted int64
	Evicted       int64
	HardEvicted   int64
	Rewound       int64

	Stop   StopReason
	Digest uint64 // xxh3 of the generated ids
}

// Digest hashes token ids in order.
func Digest(ids []int32) uint64 {
	h := xxh3.New()
	var buf [4]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

type accumulator struct {
	compression float64
	recovered   float64
}

func (d *Diagnostics) observe(acc *accumulator, proposed, accepted int, compression, recovered float64) {
	d.Rounds++
	d.Proposed += proposed
	d.Accepted += accepted
	acc.compression += compression
	acc.recovered += recovered
	d.FinalCompression = compression
}

func (d *Diagnostics) finish(acc *accumulator, tokens []model.Token) {
	if d.Proposed > 0 {
		d.AcceptanceRate = float64(d.Accepted) / float64(d.Proposed)
	}
	if d.Rounds > 0 {
		d.MeanCompression = acc.compression / float64(d.Rounds)
		d.MeanRecovered = acc.recovered / float64(d.Rounds)
	}
	d.Digest = Digest(model.IDs(tokens))
}
