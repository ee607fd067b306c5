package notify

import (
	"fmt"
	"os"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/gen2brain/malgo"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

// MalgoPlayer decodes a WAV asset with go-audio/wav and plays it through
// miniaudio (gen2brain/malgo). A missing or corrupt asset file falls back
// to the OS bell via beeep.Beep.
type MalgoPlayer struct {
	log *logrus.Entry
}

// NewMalgoPlayer constructs the default Player.
func NewMalgoPlayer(log *logrus.Entry) *MalgoPlayer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MalgoPlayer{log: log}
}

// Play decodes and plays a WAV file to the default output device.
func (p *MalgoPlayer) Play(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sound asset: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("sound asset is not a valid WAV file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode sound asset: %w", err)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer ctx.Free()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(buf.Format.NumChannels)
	deviceConfig.SampleRate = uint32(buf.Format.SampleRate)

	samples := buf.AsIntBuffer().Data
	pos := 0
	onSamples := func(out, _ []byte, frameCount uint32) {
		need := int(frameCount) * buf.Format.NumChannels
		for i := 0; i < need && pos < len(samples); i++ {
			v := int16(samples[pos])
			out[i*2] = byte(v)
			out[i*2+1] = byte(v >> 8)
			pos++
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(out, in []byte, frameCount uint32) { onSamples(out, in, frameCount) },
	})
	if err != nil {
		return fmt.Errorf("init audio device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("start audio device: %w", err)
	}
	defer device.Stop()

	frames := len(samples) / buf.Format.NumChannels
	duration := time.Duration(frames) * time.Second / time.Duration(buf.Format.SampleRate)
	time.Sleep(duration)
	return nil
}

// Beep falls back to the system bell.
func (p *MalgoPlayer) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}
