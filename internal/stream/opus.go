// /internal/stream/opus.go
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

// SendFunc delivers one encoded Opus frame.
type SendFunc func(ctx context.Context, frame []byte) error

// Encode reads 48 kHz stereo s16le from pcm and sends 20ms Opus frames until
// pcm ends or ctx is cancelled. A trailing partial frame is padded with
// silence.
func Encode(ctx context.Context, pcm io.Reader, send SendFunc) error {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, FrameSize*Channels*2)
	intBuf := make([]int16, FrameSize*Channels)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(pcm, pcmBuf)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			clear(pcmBuf[n:])
		case err != nil:
			return fmt.Errorf("read error: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}

		opus, encErr := encoder.Encode(intBuf, FrameSize, len(pcmBuf))
		if encErr != nil {
			return fmt.Errorf("encode error: %w", encErr)
		}
		if err := send(ctx, opus); err != nil {
			return err
		}
		if n < len(pcmBuf) {
			return nil
		}
	}
}

const (
	captureRate     = 16000
	captureChannels = 1
	maxCaptureFrame = 960
)

// CaptureDecoder turns a speaker's Opus packets into mono 16 kHz samples.
type CaptureDecoder struct {
	dec *gopus.Decoder
}

func NewCaptureDecoder() (*CaptureDecoder, error) {
	dec, err := gopus.NewDecoder(captureRate, captureChannels)
	if err != nil {
		return nil, fmt.Errorf("decoder error: %w", err)
	}
	return &CaptureDecoder{dec: dec}, nil
}

func (d *CaptureDecoder) Decode(packet []byte) ([]int16, error) {
	return d.dec.Decode(packet, maxCaptureFrame, false)
}
