// /internal/stream/output.go
package stream

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshon/mina/internal/audio"
	"github.com/keshon/mina/internal/playback"
)

// Sink is the voice connection side of playback.
type Sink interface {
	SetSpeaking(on bool) error
	SendOpus(ctx context.Context, frame []byte) error
}

// Output plays audio clips onto a Sink through ffmpeg and Opus.
type Output struct {
	sink   Sink
	ffmpeg string
	log    zerolog.Logger
}

func NewOutput(sink Sink, ffmpeg string, log zerolog.Logger) *Output {
	return &Output{sink: sink, ffmpeg: ffmpeg, log: log}
}

func (o *Output) Play(ctx context.Context, r playback.Resource) error {
	clip, ok := r.(*audio.Clip)
	if !ok {
		return fmt.Errorf("unsupported resource %T", r)
	}

	pcm, err := Decode(ctx, o.ffmpeg, clip.Path)
	if err != nil {
		return err
	}
	defer pcm.Close()

	if err := o.sink.SetSpeaking(true); err != nil {
		o.log.Debug().Err(err).Msg("speaking on")
	}
	defer func() {
		if err := o.sink.SetSpeaking(false); err != nil {
			o.log.Debug().Err(err).Msg("speaking off")
		}
	}()

	return Encode(ctx, pcm, o.sink.SendOpus)
}
