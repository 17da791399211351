// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Frame header constants.
const (
	frameMagic1 = 0x4D // 'M'
	frameMagic2 = 0x55 // 'U'

	// FrameVersion is the protocol version carried in every header.
	FrameVersion uint16 = 0x0101

	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 28
)

// Message type values for the header MsgType field.
const (
	// MsgTypeJSON marks a frame whose payload is a JSON text document.
	MsgTypeJSON uint16 = 1
	// MsgTypeFileChunk marks a frame whose payload is a raw byte range
	// of a file; the header Reserved field carries the byte offset.
	MsgTypeFileChunk uint16 = 5
)

// Content type values for the header ContentType field.
const (
	ContentTypeJSON   uint8 = 1
	ContentTypeBinary uint8 = 5
)

// compressThreshold is the payload size at or above which JSON frames
// are zlib-compressed.
const compressThreshold = 512

// maxDecompressedSize bounds the decompressed payload of a single
// frame. The encoder compresses at most one WebSocket message, so
// anything beyond this indicates a corrupt or hostile stream.
const maxDecompressedSize = 64 << 20

// Header is the fixed 28-byte frame header. All multi-byte fields are
// big-endian on the wire.
type Header struct {
	Version     uint16
	Flags       uint32
	MsgType     uint16
	MsgSeq      uint32
	ContentType uint8
	Compressed  uint8
	// Reserved carries the file byte offset for MsgTypeFileChunk
	// frames and is zero otherwise.
	Reserved      uint32
	CRC32         uint32
	PayloadLength uint32
}

// Frame is a decoded frame: header plus payload with compression
// already undone.
type Frame struct {
	Header  Header
	Payload []byte
}

// EncodeJSON encodes a JSON text payload as a frame. Payloads of at
// least 512 bytes are zlib-compressed. The CRC covers the payload as
// shipped (after compression).
func EncodeJSON(payload []byte, seq uint32) ([]byte, error) {
	header := Header{
		Version:     FrameVersion,
		MsgType:     MsgTypeJSON,
		MsgSeq:      seq,
		ContentType: ContentTypeJSON,
	}
	shipped := payload
	if len(payload) >= compressThreshold {
		compressed, err := zlibCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: compressing frame payload: %w", err)
		}
		header.Compressed = 1
		shipped = compressed
	}
	return encode(header, shipped), nil
}

// EncodeFileChunk encodes a raw file chunk frame. The offset is the
// byte position of the chunk within the file. Chunks are never
// compressed — file content does not compress predictably and the
// receiver seeks by offset.
func EncodeFileChunk(chunk []byte, seq, offset uint32) []byte {
	header := Header{
		Version:     FrameVersion,
		MsgType:     MsgTypeFileChunk,
		MsgSeq:      seq,
		ContentType: ContentTypeBinary,
		Reserved:    offset,
	}
	return encode(header, chunk)
}

func encode(header Header, payload []byte) []byte {
	header.CRC32 = crc32.ChecksumIEEE(payload)
	header.PayloadLength = uint32(len(payload))

	out := make([]byte, HeaderSize+len(payload))
	out[0] = frameMagic1
	out[1] = frameMagic2
	binary.BigEndian.PutUint16(out[2:4], header.Version)
	binary.BigEndian.PutUint32(out[4:8], header.Flags)
	binary.BigEndian.PutUint16(out[8:10], header.MsgType)
	binary.BigEndian.PutUint32(out[10:14], header.MsgSeq)
	out[14] = header.ContentType
	out[15] = header.Compressed
	binary.BigEndian.PutUint32(out[16:20], header.Reserved)
	binary.BigEndian.PutUint32(out[20:24], header.CRC32)
	binary.BigEndian.PutUint32(out[24:28], header.PayloadLength)
	copy(out[HeaderSize:], payload)
	return out
}

// Decode parses a complete frame. It fails on magic mismatch, payload
// length disagreement, CRC mismatch, or an unrecognized compression
// flag. Compressed payloads are decompressed before return.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("wire: frame shorter than header: %d bytes", len(data))
	}
	if data[0] != frameMagic1 || data[1] != frameMagic2 {
		return Frame{}, fmt.Errorf("wire: bad frame magic %#02x %#02x", data[0], data[1])
	}

	var header Header
	header.Version = binary.BigEndian.Uint16(data[2:4])
	header.Flags = binary.BigEndian.Uint32(data[4:8])
	header.MsgType = binary.BigEndian.Uint16(data[8:10])
	header.MsgSeq = binary.BigEndian.Uint32(data[10:14])
	header.ContentType = data[14]
	header.Compressed = data[15]
	header.Reserved = binary.BigEndian.Uint32(data[16:20])
	header.CRC32 = binary.BigEndian.Uint32(data[20:24])
	header.PayloadLength = binary.BigEndian.Uint32(data[24:28])

	payload := data[HeaderSize:]
	if uint32(len(payload)) != header.PayloadLength {
		return Frame{}, fmt.Errorf("wire: payload length %d disagrees with header %d",
			len(payload), header.PayloadLength)
	}
	if got := crc32.ChecksumIEEE(payload); got != header.CRC32 {
		return Frame{}, fmt.Errorf("wire: payload CRC %#08x disagrees with header %#08x",
			got, header.CRC32)
	}

	switch header.Compressed {
	case 0:
		out := make([]byte, len(payload))
		copy(out, payload)
		return Frame{Header: header, Payload: out}, nil
	case 1:
		decompressed, err := zlibDecompress(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: decompressing frame payload: %w", err)
		}
		return Frame{Header: header, Payload: decompressed}, nil
	default:
		return Frame{}, fmt.Errorf("wire: unrecognized compression flag %d", header.Compressed)
	}
}

func zlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return out, nil
}
