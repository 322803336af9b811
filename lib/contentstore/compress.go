// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the encoding of a blob in a content-load
// response. The names are protocol constants.
type Compression string

const (
	CompressionNone Compression = "none"

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd is zstd at the default level. Better ratios for
	// text-like content.
	CompressionZstd Compression = "zstd"

	// CompressionAuto is only valid in requests: the server samples the
	// blob and picks one of the other three.
	CompressionAuto Compression = "auto"
)

// ParseCompression parses a requested compression. The empty string
// means none.
func ParseCompression(name string) (Compression, error) {
	switch compression := Compression(name); compression {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionLZ4, CompressionZstd, CompressionAuto:
		return compression, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible is returned by the compressors when the output
// would not be smaller than the input.
var errIncompressible = errors.New("data is incompressible")

// Compress encodes data as requested. Auto selects by probing, and
// any compression that does not shrink the data falls back to none,
// so the returned Compression is what the bytes actually are. For
// none the input is returned without a copy.
func Compress(data []byte, requested Compression) ([]byte, Compression, error) {
	if requested == CompressionAuto {
		requested = selectCompression(data)
	}

	var compressed []byte
	var err error
	switch requested {
	case CompressionNone, "":
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, "", fmt.Errorf("unsupported compression %q", requested)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return compressed, requested, nil
}

// Decompress reverses Compress. size must be the original length;
// a mismatch is an error.
func Decompress(data []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone, "":
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		return decompressLZ4(data, size)
	case CompressionZstd:
		return decompressZstd(data, size)
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("contentstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("contentstore: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

// selectCompression samples data with zstd: a ratio of at least 1.5
// picks zstd, at least 1.1 picks the cheaper LZ4, anything less is
// not worth compressing.
func selectCompression(data []byte) Compression {
	if len(data) == 0 {
		return CompressionNone
	}
	sample := data
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	compressed := zstdEncoder.EncodeAll(sample, nil)
	ratio := float64(len(sample)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// sampleSize bounds the prefix selectCompression compresses.
const sampleSize = 64 * 1024
