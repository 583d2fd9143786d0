// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a snapshot blob.
// Values are stored in the index and must remain stable.
type Compression uint8

const (
	// CompressionNone stores the snapshot bytes verbatim. Selected
	// when the probe finds the data incompressible.
	CompressionNone Compression = 0

	// CompressionLZ4 is block-mode LZ4: fast with a modest ratio,
	// chosen when zstd gains little over it.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level: the usual choice
	// for snapshots, which are CBOR full of repeated JSON payloads.
	CompressionZstd Compression = 2
)

// String returns the name stored in the index.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the index representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Shared codec state. Both types are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// compressAuto compresses data with the algorithm the probe selects,
// returning the (possibly unchanged) bytes and the tag to record.
// Incompressible data comes back verbatim under CompressionNone.
func compressAuto(data []byte) ([]byte, Compression) {
	if len(data) == 0 {
		return data, CompressionNone
	}

	// Probe with zstd once; the ratio decides the tag.
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return compressed, CompressionZstd

	case ratio >= 1.1:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil || written == 0 || written >= len(data) {
			// LZ4 declined; the zstd probe output still wins.
			return compressed, CompressionZstd
		}
		return destination[:written], CompressionLZ4

	default:
		return data, CompressionNone
	}
}

// compressFixed applies one specific algorithm. Incompressible data
// falls back to verbatim storage so the tag never inflates the blob.
func compressFixed(data []byte, tag Compression) ([]byte, Compression) {
	if len(data) == 0 {
		return data, CompressionNone
	}
	switch tag {
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CompressionNone
		}
		return compressed, CompressionZstd

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil || written == 0 || written >= len(data) {
			return data, CompressionNone
		}
		return destination[:written], CompressionLZ4

	default:
		return data, CompressionNone
	}
}

// compressorFor maps a configured mode name to its compressor. The
// empty string selects auto.
func compressorFor(mode string) (func([]byte) ([]byte, Compression), error) {
	switch mode {
	case "", "auto":
		return compressAuto, nil
	case "zstd":
		return func(data []byte) ([]byte, Compression) {
			return compressFixed(data, CompressionZstd)
		}, nil
	case "lz4":
		return func(data []byte) ([]byte, Compression) {
			return compressFixed(data, CompressionLZ4)
		}, nil
	case "none":
		return func(data []byte) ([]byte, Compression) {
			return data, CompressionNone
		}, nil
	default:
		return nil, fmt.Errorf("unknown compression mode: %q", mode)
	}
}

// decompress reverses compressAuto. The uncompressed size comes from
// the index and must match exactly.
func decompress(blob []byte, tag Compression, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(blob) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed blob is %d bytes, index says %d",
				len(blob), uncompressedSize)
		}
		return blob, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(blob, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, index says %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(blob, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, index says %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
