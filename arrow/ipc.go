package arrow

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
)

// ErrNoRecords is returned when an IPC stream carries no record batch.
var ErrNoRecords = errors.New("no records in IPC data")

// Compression selects how an exported stream is wrapped.
type Compression string

const (
	CompressNone Compression = ""
	CompressZstd Compression = "zstd"
)

// ParseCompression accepts "", "none" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressNone, nil
	case "zstd":
		return CompressZstd, nil
	default:
		return CompressNone, fmt.Errorf("unsupported compression %q", s)
	}
}

// IPCWriter writes Arrow records as IPC streams.
type IPCWriter struct {
	allocator memory.Allocator
}

// NewIPCWriter creates a new IPCWriter.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{allocator: memory.DefaultAllocator}
}

// WriteTo streams record to w.
func (w *IPCWriter) WriteTo(dst io.Writer, record arrow.Record) error {
	writer := ipc.NewWriter(dst, ipc.WithSchema(record.Schema()), ipc.WithAllocator(w.allocator))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// SerializeToIPC serializes record to IPC bytes.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.WriteTo(&buf, record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeFromIPC reads the first record of an IPC stream. The caller
// must Release it.
func (w *IPCWriter) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(w.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, ErrNoRecords
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// Exporter renders blocks as a single IPC stream, optionally compressed.
type Exporter struct {
	conv *Converter
	ipc  *IPCWriter
}

// NewExporter creates an Exporter on the default allocator.
func NewExporter() *Exporter {
	return &Exporter{conv: NewConverter(), ipc: NewIPCWriter()}
}

// Export encodes blocks with the given compression.
func (e *Exporter) Export(blocks []ledger.Block, c Compression) ([]byte, error) {
	record, err := e.conv.BlocksToRecord(blocks)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	data, err := e.ipc.SerializeToIPC(record)
	if err != nil {
		return nil, err
	}
	if c == CompressZstd {
		return Compress(data)
	}
	return data, nil
}

// Import reverses Export.
func (e *Exporter) Import(data []byte, c Compression) ([]ledger.Block, error) {
	if c == CompressZstd {
		var err error
		if data, err = Decompress(data); err != nil {
			return nil, err
		}
	}
	record, err := e.ipc.DeserializeFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return e.conv.RecordToBlocks(record)
}

// Compress zstd-encodes data.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decodes zstd data.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
