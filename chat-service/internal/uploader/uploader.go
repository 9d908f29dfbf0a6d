package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/idgen"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/isaacberry91/propswipes-sub000/pkg/storage"
)

// ErrTooLarge is wrapped in ErrUpload when a file exceeds MaxFileSize.
var ErrTooLarge = errors.New("file exceeds maximum size")

// Config controls uploads.
type Config struct {
	SignedURLTTL      time.Duration `mapstructure:"signed_url_ttl"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	MaxImageDimension int           `mapstructure:"max_image_dimension"`
}

// File is an attachment picked by the user.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Uploader stores attachments under the sender's user id and signs a
// read URL for them.
type Uploader struct {
	storage    storage.Storage
	ids        idgen.Generator
	normalizer *ImageNormalizer
	cfg        Config
}

// New creates an Uploader. normalizer may be nil.
func New(store storage.Storage, ids idgen.Generator, normalizer *ImageNormalizer, cfg Config) *Uploader {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &Uploader{storage: store, ids: ids, normalizer: normalizer, cfg: cfg}
}

// Upload stores f under userID and returns the attachment to reference from
// a message. Failures wrap domain.ErrUpload or domain.ErrSignedURL; in both
// cases nothing usable was stored.
func (u *Uploader) Upload(ctx context.Context, userID string, f File) (domain.Attachment, error) {
	data, err := u.readAll(f.Reader)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if u.normalizer != nil && u.normalizer.Handles(contentType) {
		out, err := u.normalizer.Normalize(data, contentType)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("name", f.Name).Msg("image normalisation failed, storing original")
		} else {
			data = out
		}
	}

	id, err := u.ids.Generate()
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	name := f.Name
	if name == "" {
		name = id + extensionFor(contentType, "")
	}

	return u.store(ctx, userID, id+extensionFor(contentType, name), name, contentType, data)
}

// UploadVoiceNote stores a finalized recording.
func (u *Uploader) UploadVoiceNote(ctx context.Context, userID string, clip recorder.Clip) (domain.Attachment, error) {
	if len(clip.Data) == 0 {
		return domain.Attachment{}, domain.ErrNoAudioCaptured
	}

	id, err := u.ids.Generate()
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	contentType := clip.MimeType
	if contentType == "" {
		contentType = "audio/ogg"
	}
	name := "voice-note-" + id + extensionFor(contentType, ".ogg")

	att, err := u.store(ctx, userID, name, name, contentType, clip.Data)
	if err != nil {
		return domain.Attachment{}, err
	}
	att.IsVoiceNote = true
	att.DurationSeconds = clip.DurationSeconds
	return att, nil
}

// Sign issues a fresh URL for an already-stored key.
func (u *Uploader) Sign(ctx context.Context, key string) (string, error) {
	url, err := u.storage.GetURL(ctx, key, u.cfg.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSignedURL, err)
	}
	return url, nil
}

func (u *Uploader) store(ctx context.Context, userID, objectName, displayName, contentType string, data []byte) (domain.Attachment, error) {
	if userID == "" {
		return domain.Attachment{}, fmt.Errorf("%w: missing user id", domain.ErrUpload)
	}
	key := path.Join(userID, objectName)

	if err := u.storage.Write(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	url, err := u.storage.GetURL(ctx, key, u.cfg.SignedURLTTL)
	if err != nil {
		if delErr := u.storage.Delete(ctx, key); delErr != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(delErr).Str("key", key).Msg("failed to remove unsigned attachment")
		}
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrSignedURL, err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str("key", key).Int("bytes", len(data)).Str("content_type", contentType).Msg("attachment stored")

	return domain.Attachment{
		URL:  url,
		Type: contentType,
		Name: displayName,
		Key:  key,
	}, nil
}

func (u *Uploader) readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("no file content")
	}
	if u.cfg.MaxFileSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, u.cfg.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > u.cfg.MaxFileSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// extensionFor keeps the extension of name, falling back to one derived from
// contentType and then to fallback.
func extensionFor(contentType, name string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" && !strings.ContainsAny(ext, "/\\") {
		return ext
	}
	switch strings.SplitN(contentType, ";", 2)[0] {
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mp4":
		return ".m4a"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
