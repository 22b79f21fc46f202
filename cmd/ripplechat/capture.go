package main

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ripplechat/client-go/internal/media"
	"github.com/ripplechat/client-go/internal/session"
)

// sendFile captures a local file through the bounded recorder and ships
// it as an image or audio message. The recorder's duration ceiling
// guards against a source that never finishes (a named pipe, a slow
// mount).
func sendFile(ctx context.Context, engine *session.Engine, path string, maxDuration time.Duration) error {
	source := media.SourceFunc(func(ctx context.Context) ([]byte, error) {
		return os.ReadFile(path)
	})

	rec := media.NewRecorder(source, detectMIME(path), maxDuration)
	if err := rec.Start(ctx); err != nil {
		return err
	}
	payload, err := rec.Stop()
	if err != nil {
		return err
	}
	return engine.SendMedia(payload)
}

// detectMIME maps a file name to the MIME type carried in the data URI.
// Audio extensions are pinned explicitly: the stdlib's builtin table
// has no audio entries, and the audio/ prefix is what routes a payload
// to an audio message.
func detectMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	}
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	return "application/octet-stream"
}
