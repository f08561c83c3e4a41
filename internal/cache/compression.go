package cache

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Stored values carry a one byte header naming their encoding.
const (
	encodingJSON byte = 'j'
	encodingGzip byte = 'z'
)

var errUnknownEncoding = errors.New("cache: unknown value encoding")

// encodeValue serializes v as JSON, gzipping payloads at or above
// MinSizeForCompression when that makes them smaller.
func encodeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "cache: marshal value")
	}
	if len(raw) >= MinSizeForCompression {
		if compressed, err := CompressData(raw); err == nil && len(compressed) < len(raw) {
			return append([]byte{encodingGzip}, compressed...), nil
		}
	}
	return append([]byte{encodingJSON}, raw...), nil
}

func decodeValue(data []byte, out any) error {
	if len(data) == 0 {
		return errUnknownEncoding
	}
	payload := data[1:]
	switch data[0] {
	case encodingJSON:
	case encodingGzip:
		var err error
		if payload, err = DecompressData(payload); err != nil {
			return errors.Wrap(err, "cache: decompress value")
		}
	default:
		return errUnknownEncoding
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "cache: unmarshal value")
	}
	return nil
}

// CompressData compresses byte data using gzip
func CompressData(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	gzipWriter := gzip.NewWriter(&compressed)

	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}

	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return compressed.Bytes(), nil
}

// DecompressData decompresses gzipped byte data
func DecompressData(data []byte) ([]byte, error) {
	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gzipReader.Close()

	return io.ReadAll(gzipReader)
}
