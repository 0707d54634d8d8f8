/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package samples

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

const (
	wavFormatPCM = 1

	// go-mp3 always produces 16-bit little-endian stereo
	mp3Channels = 2
)

// Decode decodes an encoded asset into a Sample, picking the codec from
// the file extension of name.
func Decode(name string, data []byte) (*Sample, error) {
	var (
		s   *Sample
		err error
	)

	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".wav", ".wave":
		s, err = decodeWAV(data)
	case ".mp3":
		s, err = decodeMP3(data)
	case ".ogg", ".oga":
		s, err = decodeOgg(data)
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	if s.Frames == 0 {
		return nil, fmt.Errorf("%w: %s contains no audio frames", ErrDecode, name)
	}
	return s, nil
}

func decodeWAV(data []byte) (*Sample, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels <= 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("%w: missing format chunk", ErrDecode)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: wav audio format %d (only integer PCM)", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, bitDepth)
	}

	return &Sample{
		Data:       intToFloat(buf, bitDepth),
		Channels:   channels,
		Frames:     len(buf.Data) / channels,
		SampleRate: int(dec.SampleRate),
		Format:     "wav",
	}, nil
}

// intToFloat normalises go-audio integer PCM by its bit depth. 8-bit wav is unsigned.
func intToFloat(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	out := make([]float32, len(buf.Data))
	scale := float32(int64(1) << (bitDepth - 1))

	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	for i, v := range buf.Data {
		out[i] = float32(v-offset) / scale
	}
	return out
}

func decodeMP3(data []byte) (*Sample, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
		out[i] = float32(v) / 32768.0
	}

	return &Sample{
		Data:       out,
		Channels:   mp3Channels,
		Frames:     n / mp3Channels,
		SampleRate: dec.SampleRate(),
		Format:     "mp3",
	}, nil
}

func decodeOgg(data []byte) (*Sample, error) {
	out, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if format == nil || format.Channels <= 0 {
		return nil, fmt.Errorf("%w: missing vorbis header", ErrDecode)
	}

	return &Sample{
		Data:       out,
		Channels:   format.Channels,
		Frames:     len(out) / format.Channels,
		SampleRate: format.SampleRate,
		Format:     "ogg",
	}, nil
}
