package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"relay/internal/server/bundle"
	"relay/internal/server/events"
	"relay/internal/server/history"
	"relay/internal/server/metrics"
	"relay/internal/server/registry"
)

// File is one part of an upload. Open is called once, after validation.
type File struct {
	Name string
	Size int64 // declared size, -1 when unknown
	Open func() (io.ReadCloser, error)
}

// UploadInput is one upload transaction.
type UploadInput struct {
	SessionID string
	// BaseURL overrides the configured base for the links of this upload.
	BaseURL string
	Files   []File
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	Token       string        `json:"token"`
	PickupCode  string        `json:"pickup_code"`
	DownloadURL string        `json:"download_link"`
	Filename    string        `json:"filename"`
	Kind        registry.Kind `json:"kind"`
	Size        int64         `json:"size"`
	Checksum    string        `json:"checksum"`
	Files       []string      `json:"files"`
}

// Upload stores the files of one transaction, bundles them when there is
// more than one, and mints the link token and pickup code. Either both
// identifiers resolve afterwards or neither does, and a failed upload
// removes the files it wrote.
func (s *TransferService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	files, err := s.validate(in.Files)
	if err != nil {
		return nil, err
	}

	pending, err := s.registry.Reserve(s.tokens)
	if err != nil {
		if errors.Is(err, registry.ErrExhausted) {
			s.metrics.UploadFailed(metrics.ReasonExhausted)
			s.logger.Error("identifier space exhausted", "error", err)
			return nil, err
		}
		s.metrics.UploadFailed(metrics.ReasonStorage)
		return nil, fmt.Errorf("failed to mint identifiers: %w", err)
	}

	tx := &uploadTx{svc: s, ctx: ctx, pending: pending}
	defer tx.rollback()

	var uploaded int64
	for _, f := range files {
		n, err := tx.save(f)
		if err != nil {
			s.metrics.UploadFailed(metrics.ReasonStorage)
			s.logger.Error("failed to store file", "filename", f.Name, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		uploaded += n
	}

	plan, err := bundle.Decide(string(pending.Token), tx.saved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	target := registry.Target{
		Name:  plan.Target,
		Kind:  plan.Kind,
		Files: plan.Files,
	}
	var link string
	base := s.base(in.BaseURL)

	switch plan.Kind {
	case registry.KindArchive:
		tx.hold(plan.Target)
		obj, err := bundle.Build(ctx, s.store, plan)
		if err != nil {
			s.metrics.UploadFailed(metrics.ReasonBundle)
			s.logger.Error("failed to bundle files", "archive", plan.Target, "files", len(plan.Files), "error", err)
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		target.Size, target.Checksum = obj.Size, obj.Checksum
		link = base + "/download/zip/" + string(pending.Token)
	default:
		obj := tx.objects[plan.Target]
		target.Size, target.Checksum = obj.Size, obj.Checksum
		link = base + "/download/file/" + url.PathEscape(plan.Target)
	}

	target.CreatedAt = s.now()
	if err := tx.commit(target, link); err != nil {
		s.metrics.UploadFailed(metrics.ReasonStorage)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.logger.Info("upload processed",
		"token", pending.Token,
		"filename", target.Name,
		"kind", target.Kind,
		"files", len(target.Files),
		"size", target.Size,
		"checksum", target.Checksum,
	)

	s.metrics.UploadCompleted(target.Kind, len(target.Files), uploaded)
	s.record(ctx, in.SessionID, history.Record{
		Filename:   target.Name,
		Link:       link,
		PickupCode: string(pending.Code),
		CreatedAt:  target.CreatedAt,
	})
	s.publish(ctx, events.Event{
		Type:       events.TransferCreated,
		Token:      string(pending.Token),
		PickupCode: string(pending.Code),
		Filename:   target.Name,
		Kind:       string(target.Kind),
		Files:      len(target.Files),
		Size:       target.Size,
		Checksum:   target.Checksum,
		Timestamp:  target.CreatedAt,
	})

	return &UploadResult{
		Token:       string(pending.Token),
		PickupCode:  string(pending.Code),
		DownloadURL: link,
		Filename:    target.Name,
		Kind:        target.Kind,
		Size:        target.Size,
		Checksum:    target.Checksum,
		Files:       target.Files,
	}, nil
}

// validate drops parts without a filename, which browsers send when no file
// was picked, and checks the declared total size.
func (s *TransferService) validate(in []File) ([]File, error) {
	files := make([]File, 0, len(in))
	var total int64
	for _, f := range in {
		if strings.TrimSpace(f.Name) == "" || f.Open == nil {
			continue
		}
		files = append(files, f)
		if f.Size > 0 {
			total += f.Size
		}
	}

	if len(files) == 0 {
		s.metrics.UploadFailed(metrics.ReasonValidation)
		return nil, fmt.Errorf("%w: no files selected", ErrValidation)
	}
	if s.maxUploadBytes > 0 && total > s.maxUploadBytes {
		s.metrics.UploadFailed(metrics.ReasonTooLarge)
		return nil, ErrTooLarge
	}
	return files, nil
}

func (s *TransferService) base(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return s.baseURL
}

func (s *TransferService) record(ctx context.Context, sessionID string, rec history.Record) {
	if sessionID == "" {
		return
	}
	if err := s.history.Append(ctx, sessionID, rec); err != nil {
		s.logger.Warn("failed to record history", "error", err)
	}
}
