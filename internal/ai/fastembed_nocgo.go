//go:build !cgo

package ai

import (
	"context"
	"errors"
)

var ErrFastEmbedNotAvailable = errors.New("fastembed: binary built without cgo, use EMBED_PROVIDER=openai")

type fastEmbed struct{}

func newFastEmbed(_, _ string) (*fastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *fastEmbed) embedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *fastEmbed) embedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *fastEmbed) dimension() int { return 0 }

func (f *fastEmbed) close() error { return nil }
