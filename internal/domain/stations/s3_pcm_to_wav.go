package stations

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	sampleRate     = 16000
	channels       = 1
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	bytesPerSecond = sampleRate * channels * bytesPerSample
	wavHeaderSize  = 44
)

func wavHeader(dataSize uint32) []byte {
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf := &bytes.Buffer{}
	buf.Grow(wavHeaderSize)

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	return buf.Bytes()
}

// WAVWriter streams PCM into a file behind a placeholder header and
// patches the sizes on Close.
type WAVWriter struct {
	f *os.File
	n int64
}

func NewWAVWriter(f *os.File) (*WAVWriter, error) {
	if _, err := f.Write(wavHeader(0)); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return &WAVWriter{f: f}, nil
}

func (w *WAVWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

// DataSize is the number of PCM bytes written so far.
func (w *WAVWriter) DataSize() int64 { return w.n }

func (w *WAVWriter) Close() error {
	if w.n > math.MaxUint32-36 {
		w.f.Close()
		return fmt.Errorf("wav data too large: %d bytes", w.n)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		w.f.Close()
		return err
	}
	if _, err := w.f.Write(wavHeader(uint32(w.n))); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
