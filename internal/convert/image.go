package convert

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"

	"github.com/slideguard/slidereview/internal/apperr"
)

// convertImage 单张图片直接作为唯一一页，不带文本。统一缩放到配置
// 分辨率内并重编码，保证下游拿到的载荷尺寸可控。
func (c *converter) convertImage(data []byte) (*SlideSequence, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Conversion("unreadable image", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > c.width || bounds.Dy() > c.height {
		img = imaging.Fit(img, c.width, c.height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, apperr.Conversion("failed to encode image", err)
	}

	done := false
	return &SlideSequence{
		Count: 1,
		next: func(_ context.Context) (*RenderedSlide, error) {
			if done {
				return nil, nil
			}
			done = true
			return &RenderedSlide{
				Index:     0,
				Image:     buf.Bytes(),
				MediaType: "image/jpeg",
			}, nil
		},
	}, nil
}
