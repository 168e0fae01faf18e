package convert

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/slideguard/slidereview/internal/apperr"
	"github.com/slideguard/slidereview/pkg/logger"
)

// convertPresentation 把 PPT/PDF 文档转成逐页图片加文本的惰性序列。
// 页图片由渲染服务产出；PDF 的文本在本地解析，PPT 的文本由渲染服务
// 逐页返回。
func (c *converter) convertPresentation(ctx context.Context, ext string, data []byte) (*SlideSequence, error) {
	var pageTexts []string
	if ext == ".pdf" {
		texts, err := pdfPageTexts(data)
		if err != nil {
			return nil, apperr.Conversion("unreadable pdf", err)
		}
		pageTexts = texts
	}

	deckName := tempDeckName(ext)
	if err := c.render.UploadDeck(ctx, deckName, data); err != nil {
		return nil, apperr.Conversion("failed to upload document to render service", err)
	}

	count, err := c.render.SlideCount(ctx, deckName)
	if err != nil {
		c.deleteDeck(deckName)
		return nil, apperr.Conversion("failed to read slide count", err)
	}
	if count == 0 {
		c.deleteDeck(deckName)
		return nil, apperr.Conversion("document contains no slides", nil)
	}
	if pageTexts != nil && len(pageTexts) != count {
		// 文本解析和渲染服务对页数的理解不一致时以渲染结果为准
		c.logger.Warn("Page text count differs from rendered slide count",
			logger.Int("textPages", len(pageTexts)),
			logger.Int("slides", count),
		)
	}

	mediaType := "image/" + c.format
	if c.format == "jpg" {
		mediaType = "image/jpeg"
	}

	next := 0
	return &SlideSequence{
		Count: count,
		next: func(ctx context.Context) (*RenderedSlide, error) {
			if next >= count {
				return nil, nil
			}
			i := next
			next++

			// 渲染服务页号从 1 开始
			img, err := c.render.RenderSlide(ctx, deckName, i+1, c.width, c.height, c.format)
			if err != nil {
				c.deleteDeck(deckName)
				return nil, apperr.Conversion(fmt.Sprintf("failed to render slide %d", i), err)
			}

			text := ""
			if pageTexts != nil {
				if i < len(pageTexts) {
					text = pageTexts[i]
				}
			} else {
				text, err = c.render.SlideText(ctx, deckName, i+1)
				if err != nil {
					c.deleteDeck(deckName)
					return nil, apperr.Conversion(fmt.Sprintf("failed to extract text for slide %d", i), err)
				}
			}

			if next >= count {
				c.deleteDeck(deckName)
			}
			return &RenderedSlide{
				Index:     i,
				Image:     img,
				MediaType: mediaType,
				Text:      text,
			}, nil
		},
	}, nil
}

func (c *converter) deleteDeck(name string) {
	if err := c.render.DeleteDeck(context.Background(), name); err != nil {
		c.logger.Warn("Failed to delete temporary deck",
			logger.String("deck", name),
			logger.Error(err),
		)
	}
}

func tempDeckName(ext string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "deck-" + hex.EncodeToString(buf) + ext
}
