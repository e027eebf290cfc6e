package scan

import (
	"context"
	"image"

	"github.com/makiuchi-d/gozxing"
	qrreader "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
)

var ErrCameraUnavailable = errors.New("camera unavailable")

type (
	// FrameSource is a live video feed. Frame blocks until the next frame
	// is available, pacing the decode loop at the source's native cadence.
	FrameSource interface {
		Open(ctx context.Context) error
		Frame(ctx context.Context) (image.Image, error)
		Close() error
	}

	DecodeFunc func(image.Image) (string, error)

	// Decoder captures QR payloads from a FrameSource, emitting the same
	// Code shape as the keystroke assembler.
	Decoder struct {
		src    FrameSource
		decode DecodeFunc
		logger core.Logger
	}
)

func NewDecoder(src FrameSource, logger core.Logger, decode ...DecodeFunc) *Decoder {
	d := &Decoder{
		src:    src,
		decode: DecodeQR,
		logger: logger,
	}
	if len(decode) > 0 && decode[0] != nil {
		d.decode = decode[0]
	}
	return d
}

// Capture acquires the camera and attempts a decode on every frame until
// one succeeds or ctx is canceled. The source is released synchronously on
// every exit path so the device handle never leaks. Failed decodes are
// expected (most frames have no readable QR) and only logged.
func (d *Decoder) Capture(ctx context.Context) (Code, error) {
	if err := d.src.Open(ctx); err != nil {
		return Code{}, errors.Wrap(ErrCameraUnavailable, err.Error())
	}
	defer func() {
		if err := d.src.Close(); err != nil {
			d.logger.Warn("releasing camera", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return Code{}, ctx.Err()
		default:
		}

		frame, err := d.src.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Code{}, ctx.Err()
			}
			return Code{}, errors.Wrap(ErrCameraUnavailable, err.Error())
		}

		payload, err := d.decode(frame)
		if err != nil {
			d.logger.Debug("frame decode failed", err)
			continue
		}
		return Code{Value: payload, Raw: payload, Timestamp: nowFunc()}, nil
	}
}

// DecodeQR decodes a QR payload from a single frame.
func DecodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	res, err := qrreader.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}
