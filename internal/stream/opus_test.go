package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameBytes = FrameSize * Channels * 2

func TestEncodeSendsWholeAndPaddedFrames(t *testing.T) {
	pcm := bytes.NewReader(make([]byte, 2*frameBytes+100))

	var frames int
	err := Encode(context.Background(), pcm, func(_ context.Context, f []byte) error {
		assert.NotEmpty(t, f)
		frames++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, frames)
}

func TestEncodeEmptyInput(t *testing.T) {
	err := Encode(context.Background(), bytes.NewReader(nil), func(context.Context, []byte) error {
		t.Fatal("nothing to send")
		return nil
	})
	assert.NoError(t, err)
}

func TestEncodeStopsOnSendError(t *testing.T) {
	boom := errors.New("connection gone")
	err := Encode(context.Background(), bytes.NewReader(make([]byte, 4*frameBytes)), func(context.Context, []byte) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestEncodeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var frames int
	err := Encode(ctx, bytes.NewReader(make([]byte, 10*frameBytes)), func(context.Context, []byte) error {
		frames++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, frames)
}

func TestCaptureDecoderRoundTrip(t *testing.T) {
	var packets [][]byte
	require.NoError(t, Encode(context.Background(), bytes.NewReader(make([]byte, frameBytes)), func(_ context.Context, f []byte) error {
		packets = append(packets, append([]byte(nil), f...))
		return nil
	}))
	require.Len(t, packets, 1)

	dec, err := NewCaptureDecoder()
	require.NoError(t, err)
	pcm, err := dec.Decode(packets[0])
	require.NoError(t, err)
	// 20ms at 16 kHz mono
	assert.Len(t, pcm, 320)
}
