package chunkstore

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// erasureCoder splits a single chunk's bytes into data+parity shards so a
// chunk survives losing up to parityShards underlying shard files without
// needing the whole blob re-uploaded.
type erasureCoder struct {
	dataShards   int
	parityShards int
	encoder      reedsolomon.Encoder
}

func newErasureCoder(dataShards, parityShards int) (*erasureCoder, error) {
	if dataShards <= 0 || parityShards < 0 {
		return nil, fmt.Errorf("invalid shard counts: data=%d parity=%d", dataShards, parityShards)
	}
	encoder, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("create erasure encoder: %w", err)
	}
	return &erasureCoder{dataShards: dataShards, parityShards: parityShards, encoder: encoder}, nil
}

func (ec *erasureCoder) encode(data []byte) ([][]byte, error) {
	shardSize := (len(data) + ec.dataShards - 1) / ec.dataShards
	if shardSize == 0 {
		shardSize = 1
	}
	shards := make([][]byte, ec.dataShards+ec.parityShards)

	for i := 0; i < ec.dataShards; i++ {
		start := i * shardSize
		end := start + shardSize
		switch {
		case start >= len(data):
			shards[i] = make([]byte, shardSize)
		case end > len(data):
			shards[i] = make([]byte, shardSize)
			copy(shards[i], data[start:])
		default:
			shards[i] = append([]byte(nil), data[start:end]...)
		}
	}
	for i := ec.dataShards; i < ec.dataShards+ec.parityShards; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := ec.encoder.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode shards: %w", err)
	}
	return shards, nil
}

func (ec *erasureCoder) decode(shards [][]byte, originalSize int) ([]byte, error) {
	if len(shards) != ec.dataShards+ec.parityShards {
		return nil, fmt.Errorf("expected %d shards, got %d", ec.dataShards+ec.parityShards, len(shards))
	}

	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < ec.dataShards {
		return nil, fmt.Errorf("insufficient shards: need %d, have %d", ec.dataShards, present)
	}

	if err := ec.encoder.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstruct shards: %w", err)
	}

	var buf bytes.Buffer
	for i := 0; i < ec.dataShards; i++ {
		buf.Write(shards[i])
	}

	data := buf.Bytes()
	if len(data) > originalSize {
		data = data[:originalSize]
	}
	return data, nil
}
