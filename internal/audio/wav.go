package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// WAVFormat describes uncompressed PCM audio
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// RecordingFormat returns the mono 16-bit format used for recordings
func RecordingFormat(sampleRate int) WAVFormat {
	return WAVFormat{
		SampleRate:    sampleRate,
		Channels:      Channels,
		BitsPerSample: SampleWidth * 8,
	}
}

// wavHeader mirrors the 44-byte RIFF/WAVE header on disk
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAVHeader returns the header for dataLen bytes of PCM data
func EncodeWAVHeader(format WAVFormat, dataLen int) []byte {
	blockAlign := format.Channels * format.BitsPerSample / 8

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataLen),
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize))
	// Writes into a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, header)
	return buf.Bytes()
}

// WriteWAVFile writes chunks as one WAV file at path.
// The file is written to a temporary name in the same directory, synced and
// renamed, so path either keeps its old content or holds the complete new file.
func WriteWAVFile(path string, format WAVFormat, chunks [][]byte) (err error) {
	if format.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", format.SampleRate)
	}
	if format.Channels <= 0 || format.BitsPerSample <= 0 {
		return fmt.Errorf("invalid wav format: %d channels, %d bits", format.Channels, format.BitsPerSample)
	}

	dataLen := 0
	for _, chunk := range chunks {
		dataLen += len(chunk)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(EncodeWAVHeader(format, dataLen)); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	for _, chunk := range chunks {
		if _, err = tmp.Write(chunk); err != nil {
			return fmt.Errorf("failed to write wav data: %w", err)
		}
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync wav file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close wav file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename wav file: %w", err)
	}

	return nil
}

// WAVInfo holds the header fields of a WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	DataSize      int     `json:"data_size_bytes"`
	Frames        int     `json:"frames"`
	Duration      float64 `json:"duration_seconds"`
}

// ReadWAVInfo reads and validates the header of the WAV file at path
func ReadWAVInfo(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	info, _, err := readWAV(f)
	return info, err
}

// DecodeWAV parses a PCM WAV stream and returns its header and sample data
func DecodeWAV(r io.Reader) (*WAVInfo, []byte, error) {
	info, body, err := readWAV(r)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, info.DataSize)
	if _, err := io.ReadFull(body, data); err != nil {
		return nil, nil, fmt.Errorf("failed to read wav data: %w", err)
	}
	return info, data, nil
}

func readWAV(r io.Reader) (*WAVInfo, io.Reader, error) {
	var header wavHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to read wav header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid wav file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid wav file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, nil, fmt.Errorf("invalid wav file: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, nil, fmt.Errorf("invalid wav file: missing data chunk")
	}
	if header.AudioFormat != 1 {
		return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.SampleRate == 0 || header.NumChannels == 0 || header.BitsPerSample == 0 {
		return nil, nil, fmt.Errorf("invalid wav file: zero sample rate, channels or bit depth")
	}

	blockAlign := int(header.NumChannels) * int(header.BitsPerSample) / 8
	if blockAlign == 0 {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d", header.BitsPerSample)
	}
	frames := int(header.Subchunk2Size) / blockAlign

	return &WAVInfo{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
		DataSize:      int(header.Subchunk2Size),
		Frames:        frames,
		Duration:      float64(frames) / float64(header.SampleRate),
	}, r, nil
}
