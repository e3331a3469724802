package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/multierr"
)

var initDrivers sync.Once

// MediaDevices is a Backend over the local camera drivers.
type MediaDevices struct{}

// NewMediaDevices registers the platform camera drivers and returns the
// backend.
func NewMediaDevices() *MediaDevices {
	initDrivers.Do(mediadevicescamera.Initialize)
	return &MediaDevices{}
}

// Devices lists the video inputs.
func (m *MediaDevices) Devices() ([]Device, error) {
	var devices []Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, Device{ID: info.DeviceID, Label: info.Label})
	}
	return devices, nil
}

// Open requests a video stream constrained to id and the configured size.
func (m *MediaDevices) Open(ctx context.Context, id string, cfg Config) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.StringExact(id)
			}
			c.Width = prop.Int(cfg.Width)
			c.Height = prop.Int(cfg.Height)
			c.FrameRate = prop.Float(float64(cfg.Framerate))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	track, err := firstVideoTrack(stream.GetTracks(), stream.GetVideoTracks())
	if err != nil {
		return nil, err
	}

	return &mediaStream{
		tracks: stream.GetTracks(),
		reader: track.NewReader(false),
	}, nil
}

type mediaStream struct {
	tracks []mediadevices.Track
	reader video.Reader

	once sync.Once
	err  error
}

func (s *mediaStream) Read() (image.Image, func(), error) {
	return s.reader.Read()
}

// Close stops every track once.
func (s *mediaStream) Close() error {
	s.once.Do(func() {
		s.err = closeTracks(s.tracks)
	})
	return s.err
}

// firstVideoTrack picks the track to read from. When there is none, every
// track is released and close failures are combined with the returned error.
func firstVideoTrack(all, video []mediadevices.Track) (*mediadevices.VideoTrack, error) {
	if len(video) == 0 {
		return nil, multierr.Append(errors.New("stream has no video track"), closeTracks(all))
	}
	track, ok := video[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, multierr.Append(fmt.Errorf("unexpected track type %T", video[0]), closeTracks(all))
	}
	return track, nil
}

func closeTracks(tracks []mediadevices.Track) error {
	var err error
	for _, t := range tracks {
		err = multierr.Append(err, t.Close())
	}
	return err
}
