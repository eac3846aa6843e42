package wavengine

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned for payloads without a RIFF/WAVE header.
var ErrNotWAV = errors.New("payload is not a WAV file")

// waveFormat describes the PCM stream extracted from a WAV container.
type waveFormat struct {
	sampleRate int
	channels   int
	bitDepth   int
}

// decodeWAV extracts the PCM samples and format from a WAV container.
// Only uncompressed 16-bit PCM is supported; anything else is rejected.
func decodeWAV(raw []byte) ([]byte, waveFormat, error) {
	var f waveFormat
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, f, ErrNotWAV
	}

	var data []byte
	haveFmt := false

	// Walk the chunk list. Chunks are word aligned; odd sizes carry a pad
	// byte that is not counted in the size field.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			return nil, f, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, f, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			audioFormat := binary.LittleEndian.Uint16(raw[body : body+2])
			if audioFormat != 1 {
				return nil, f, fmt.Errorf("unsupported audio format %d, want PCM", audioFormat)
			}
			f.channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			f.sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			f.bitDepth = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			if f.bitDepth != 16 {
				return nil, f, fmt.Errorf("unsupported bit depth %d, want 16", f.bitDepth)
			}
			haveFmt = true
		case "data":
			data = raw[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, f, errors.New("missing fmt chunk")
	}
	if data == nil {
		return nil, f, errors.New("missing data chunk")
	}
	return data, f, nil
}
