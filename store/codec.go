package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the chunk compression algorithm.
type Compression uint8

const (
	// CompressionNone stores chunks uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd uses ZSTD block compression (better ratio).
	CompressionZstd
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
)

func (c Compression) id() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return ""
	}
}

func compressionFromID(id string) (Compression, error) {
	switch id {
	case "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("store: unknown compressor %q", id)
	}
}

// ZSTD encoder/decoder pools for efficiency.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Chunk object layout: [UncompressedSize uint32][CompressedSize uint32][Data].
// CompressedSize == 0 marks a raw (incompressible or uncompressed) payload.
const chunkHeaderSize = 8

func compressChunk(c Compression, src []byte) ([]byte, error) {
	var payload []byte
	switch c {
	case CompressionNone:
	case CompressionZstd:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(src, nil)
		zstdEncoderPool.Put(enc)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(src)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(src, buf)
		if err != nil {
			return nil, err
		}
		// n == 0 means the block is incompressible; fall back to raw.
		if n > 0 {
			payload = buf[:n]
		}
	default:
		return nil, fmt.Errorf("store: unknown compression %d", c)
	}

	if payload == nil || len(payload) >= len(src) {
		out := make([]byte, chunkHeaderSize+len(src))
		binary.LittleEndian.PutUint32(out[0:4], uint32(len(src)))
		binary.LittleEndian.PutUint32(out[4:8], 0)
		copy(out[chunkHeaderSize:], src)
		return out, nil
	}

	out := make([]byte, chunkHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[chunkHeaderSize:], payload)
	return out, nil
}

func decompressChunk(c Compression, data []byte) ([]byte, error) {
	if len(data) < chunkHeaderSize {
		return nil, fmt.Errorf("store: chunk too short (%d bytes)", len(data))
	}
	rawSize := binary.LittleEndian.Uint32(data[0:4])
	compSize := binary.LittleEndian.Uint32(data[4:8])
	payload := data[chunkHeaderSize:]

	if compSize == 0 {
		if uint32(len(payload)) != rawSize {
			return nil, fmt.Errorf("store: raw chunk size mismatch: header %d, payload %d", rawSize, len(payload))
		}
		return payload, nil
	}
	if uint32(len(payload)) != compSize {
		return nil, fmt.Errorf("store: compressed chunk size mismatch: header %d, payload %d", compSize, len(payload))
	}

	switch c {
	case CompressionZstd:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		zstdDecoderPool.Put(dec)
		return out, err
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("store: compressed chunk with compression 'none'")
	}
}
