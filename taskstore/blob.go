// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm behind a task record blob. The
// value is stored in each row's record_tag column — changing these
// values breaks existing databases.
type Compression uint8

const (
	// CompressionRaw stores the encoded record as-is. Not selectable:
	// the writer falls back to it per record when compression does not
	// shrink the bytes (short transcripts).
	CompressionRaw Compression = 0

	// CompressionLZ4 is LZ4 block compression: cheap CPU, modest
	// ratio. Selectable for hosts where the archive write path
	// competes with query polling for cycles.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Transcripts are
	// text and typically shrink 3-5x; this is the default.
	CompressionZstd Compression = 2
)

// String returns the name stored in configuration files and shown by
// the CLI.
func (c Compression) String() string {
	switch c {
	case CompressionRaw:
		return "raw"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a selectable compression name from
// configuration. Raw is a storage fallback, not a choice, so it is
// rejected here.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown task record compression %q (want zstd or lz4)", name)
	}
}

// zstdEncoder and zstdDecoder are shared across all stores. Both are
// safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("taskstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("taskstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compressRecord compresses an encoded record with the requested
// algorithm. When the output would not be smaller than the input it
// stores the record uncompressed instead, so the returned tag always
// names the bytes actually produced.
func compressRecord(data []byte, c Compression) (Compression, []byte, error) {
	switch c {
	case CompressionRaw:
		return CompressionRaw, data, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return CompressionRaw, data, nil
		}
		return CompressionLZ4, destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return CompressionRaw, data, nil
		}
		return CompressionZstd, compressed, nil

	default:
		return 0, nil, fmt.Errorf("unsupported compression tag: %d", uint8(c))
	}
}

// decompressRecord reverses compressRecord. uncompressedSize must
// match the original record length exactly — a mismatch means a
// corrupt row.
func decompressRecord(blob []byte, c Compression, uncompressedSize int) ([]byte, error) {
	switch c {
	case CompressionRaw:
		if len(blob) != uncompressedSize {
			return nil, fmt.Errorf("raw record: size %d does not match expected %d",
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
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d",
				read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(blob, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d",
				len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", uint8(c))
	}
}
