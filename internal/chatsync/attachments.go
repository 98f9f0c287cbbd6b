package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

const previewScheme = "preview://"

// LocalFile is a file the user attached before it has been uploaded.
type LocalFile struct {
	Name     string
	MimeType string
	Data     []byte
}

func (f LocalFile) contentType() string {
	if f.MimeType == "" {
		return "application/octet-stream"
	}
	return f.MimeType
}

// PreviewRegistry holds the bytes behind transient attachment previews until
// they are released.
type PreviewRegistry struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{items: make(map[string][]byte)}
}

func (r *PreviewRegistry) Issue(data []byte) string {
	ref := previewScheme + uuid.NewString()
	r.mu.Lock()
	r.items[ref] = data
	r.mu.Unlock()
	return ref
}

// PreviewRef turns the id part of a preview URL back into its reference.
func PreviewRef(id string) string {
	return previewScheme + strings.TrimPrefix(id, previewScheme)
}

func (r *PreviewRegistry) Get(ref string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.items[ref]
	return data, ok
}

// Release frees ref. Releasing twice is harmless.
func (r *PreviewRegistry) Release(ref string) {
	r.mu.Lock()
	delete(r.items, ref)
	r.mu.Unlock()
}

// Len is the number of previews still held.
func (r *PreviewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// AttachmentPipeline turns local files into durable attachment rows.
type AttachmentPipeline struct {
	backend  AttachmentBackend
	objects  ObjectStore
	previews *PreviewRegistry
	ttl      time.Duration
	log      zerolog.Logger
}

func NewAttachmentPipeline(backend AttachmentBackend, objects ObjectStore, previews *PreviewRegistry, ttl time.Duration, log zerolog.Logger) *AttachmentPipeline {
	if previews == nil {
		previews = NewPreviewRegistry()
	}
	return &AttachmentPipeline{
		backend:  backend,
		objects:  objects,
		previews: previews,
		ttl:      ttl,
		log:      log.With().Str("component", "attachments").Logger(),
	}
}

// Stage builds the transient attachment list shown while uploads run.
func (p *AttachmentPipeline) Stage(scope models.Scope, messageID uint, files []LocalFile) []models.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		ref := p.previews.Issue(f.Data)
		out = append(out, models.Attachment{
			ID:         models.TransientPrefix + uuid.NewString(),
			Scope:      scope,
			MessageID:  messageID,
			FileName:   f.Name,
			MimeType:   f.contentType(),
			Size:       int64(len(f.Data)),
			FileURL:    ref,
			PreviewRef: ref,
		})
	}
	return out
}

// Upload stores every file concurrently and returns the attachments that made
// it, in input order. A failed file is logged and left out.
func (p *AttachmentPipeline) Upload(ctx context.Context, scope models.Scope, owner, messageID uint, files []LocalFile) []models.Attachment {
	results := make([]*models.Attachment, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f LocalFile) {
			defer wg.Done()
			att, err := p.uploadOne(ctx, scope, owner, messageID, f)
			if err != nil {
				p.log.Warn().Err(err).
					Uint("message_id", messageID).
					Str("file_name", f.Name).
					Msg("attachment upload failed")
				return
			}
			results[i] = att
		}(i, f)
	}
	wg.Wait()

	out := make([]models.Attachment, 0, len(files))
	for _, att := range results {
		if att != nil {
			out = append(out, *att)
		}
	}
	return out
}

func (p *AttachmentPipeline) uploadOne(ctx context.Context, scope models.Scope, owner, messageID uint, f LocalFile) (*models.Attachment, error) {
	if p.objects == nil {
		return nil, ErrStorageMissing
	}
	key := StoragePath(scope, owner, messageID, f.Name)
	if err := p.objects.Upload(ctx, key, bytes.NewReader(f.Data), int64(len(f.Data)), f.contentType()); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	url, err := p.objects.Sign(ctx, key, p.ttl)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", key, err)
	}

	att := &models.Attachment{
		ID:          uuid.NewString(),
		Scope:       scope,
		MessageID:   messageID,
		FileName:    f.Name,
		StoragePath: key,
		MimeType:    f.contentType(),
		Size:        int64(len(f.Data)),
	}
	if err := p.backend.InsertAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("persist attachment: %w", err)
	}
	att.FileURL = url
	return att, nil
}

// Release frees the preview bytes behind transient attachments.
func (p *AttachmentPipeline) Release(atts []models.Attachment) {
	for _, a := range atts {
		if a.PreviewRef != "" {
			p.previews.Release(a.PreviewRef)
		}
	}
}

// Resolve loads persisted attachments for messageIDs and signs fresh URLs.
// Attachments whose URL cannot be signed are returned without one.
func (p *AttachmentPipeline) Resolve(ctx context.Context, scope models.Scope, messageIDs []uint) map[uint][]models.Attachment {
	out := make(map[uint][]models.Attachment)
	if len(messageIDs) == 0 {
		return out
	}
	rows, err := p.backend.ListAttachments(ctx, scope, messageIDs)
	if err != nil {
		p.log.Warn().Err(err).Msg("attachment lookup failed")
		return out
	}
	for _, a := range rows {
		if p.objects != nil {
			if url, err := p.objects.Sign(ctx, a.StoragePath, p.ttl); err == nil {
				a.FileURL = url
			} else {
				p.log.Debug().Err(err).Str("attachment_id", a.ID).Msg("sign failed")
			}
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out
}

// StoragePath namespaces an attachment by scope, owner (user or group) and
// message, with a random prefix so names never collide.
func StoragePath(scope models.Scope, owner, messageID uint, fileName string) string {
	return path.Join(string(scope), fmt.Sprint(owner), fmt.Sprint(messageID), uuid.NewString()+"-"+safeFileName(fileName))
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
