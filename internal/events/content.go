package events

import (
	"strings"

	"submitline/internal/domain"
)

// SetUploadPackage attaches a source package. The submitter has to confirm
// the preview again afterwards.
type SetUploadPackage struct {
	Identifier       string `json:"identifier"`
	Checksum         string `json:"checksum"`
	UncompressedSize int64  `json:"uncompressed_size"`
	CompressedSize   int64  `json:"compressed_size"`
	SourceFormat     string `json:"source_format,omitempty"`
}

func (*SetUploadPackage) EventType() Type { return TypeSetUploadPackage }

func (p *SetUploadPackage) normalize() {
	p.Identifier = strings.TrimSpace(p.Identifier)
	p.SourceFormat = strings.ToLower(strings.TrimSpace(p.SourceFormat))
}

func (p *SetUploadPackage) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if p.Identifier == "" {
		return e.invalid("Missing upload ID")
	}
	return nil
}

func (p *SetUploadPackage) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.SourceContent = &domain.SourceContent{
		Identifier:       p.Identifier,
		Checksum:         p.Checksum,
		UncompressedSize: p.UncompressedSize,
		CompressedSize:   p.CompressedSize,
		SourceFormat:     p.SourceFormat,
	}
	s.SubmitterConfirmedPreview = false
	return s
}

// UpdateUploadPackage refreshes the checksum and sizes of the current
// package after the upload workspace changed.
type UpdateUploadPackage struct {
	Checksum         string `json:"checksum"`
	UncompressedSize int64  `json:"uncompressed_size"`
	CompressedSize   int64  `json:"compressed_size"`
	SourceFormat     string `json:"source_format,omitempty"`
}

func (*UpdateUploadPackage) EventType() Type { return TypeUpdateUploadPackage }

func (p *UpdateUploadPackage) normalize() {
	p.SourceFormat = strings.ToLower(strings.TrimSpace(p.SourceFormat))
}

func (*UpdateUploadPackage) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if s.SourceContent == nil {
		return e.invalid("No upload package to update")
	}
	return nil
}

func (p *UpdateUploadPackage) project(_ *Event, s *domain.Submission) *domain.Submission {
	c := *s.SourceContent
	c.Checksum = p.Checksum
	c.UncompressedSize = p.UncompressedSize
	c.CompressedSize = p.CompressedSize
	if p.SourceFormat != "" {
		c.SourceFormat = p.SourceFormat
	}
	s.SourceContent = &c
	s.SubmitterConfirmedPreview = false
	return s
}

type UnsetUploadPackage struct{}

func (*UnsetUploadPackage) EventType() Type { return TypeUnsetUploadPackage }

func (*UnsetUploadPackage) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*UnsetUploadPackage) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.SourceContent = nil
	s.SubmitterConfirmedPreview = false
	return s
}
