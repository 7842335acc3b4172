package audio

import (
	"errors"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	BytesPerSecond = SampleRate * Channels * BitsPerSample / 8

	WAVHeaderSize = 44
)

// ErrNoInput reports that no capture device could be opened.
var ErrNoInput = errors.New("no audio input available")

// FrameBytes is the size of a PCM frame of duration d.
func FrameBytes(d time.Duration) int {
	n := int(int64(BytesPerSecond) * int64(d) / int64(time.Second))
	return n &^ 1
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// Gain multiplies each sample; 0 and 1 leave the signal untouched.
	Gain int
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

func applyGain(s int16, gain int) int16 {
	if gain <= 1 {
		return s
	}
	amplified := int32(s) * int32(gain)
	if amplified > 32767 {
		return 32767
	} else if amplified < -32768 {
		return -32768
	}
	return int16(amplified)
}
