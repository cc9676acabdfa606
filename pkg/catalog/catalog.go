// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog resolves document text and metadata. Documents are
// owned by the external ingestion subsystem; this package only reads.
package catalog

import (
	"context"
	"strings"
)

// PageSize is the number of characters per page in the paging model.
const PageSize = 500

// Section is one logical section of a document, spanning whole pages.
type Section struct {
	SectionID string `json:"section_id"`
	Title     string `json:"title"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// Document is the catalog record for one document.
type Document struct {
	DocID    string    `json:"doc_id"`
	TenantID string    `json:"tenant_id"`
	Title    string    `json:"title"`
	Pages    int       `json:"pages"`
	Tags     []string  `json:"tags,omitempty"`
	Sections []Section `json:"sections"`
	Content  string    `json:"content"`
}

// Repository looks up documents. A missing document is (nil, nil), not an
// error; errors mean the backend itself failed.
type Repository interface {
	GetDocument(ctx context.Context, docID string) (*Document, error)
}

// PageText returns the text of one 1-based page.
func (d *Document) PageText(page int) string {
	if page < 1 {
		return ""
	}
	start := (page - 1) * PageSize
	if start >= len(d.Content) {
		return ""
	}
	end := start + PageSize
	if end > len(d.Content) {
		end = len(d.Content)
	}
	return d.Content[start:end]
}

// SpanText returns the concatenated text of pages [from, to].
func (d *Document) SpanText(from, to int) string {
	var b strings.Builder
	for page := from; page <= to; page++ {
		b.WriteString(d.PageText(page))
	}
	return b.String()
}

// FindSection returns the section with the given id, or nil.
func (d *Document) FindSection(sectionID string) *Section {
	for i := range d.Sections {
		if d.Sections[i].SectionID == sectionID {
			return &d.Sections[i]
		}
	}
	return nil
}

// SectionText returns the text of one section's page span.
func (d *Document) SectionText(sectionID string) (string, bool) {
	section := d.FindSection(sectionID)
	if section == nil {
		return "", false
	}
	return d.SpanText(section.PageStart, section.PageEnd), true
}

// Metadata returns the catalog record without the content body.
func (d *Document) Metadata() map[string]any {
	sections := make([]map[string]any, 0, len(d.Sections))
	for _, s := range d.Sections {
		sections = append(sections, map[string]any{
			"section_id": s.SectionID,
			"title":      s.Title,
			"page_start": s.PageStart,
			"page_end":   s.PageEnd,
		})
	}
	return map[string]any{
		"doc_id":    d.DocID,
		"tenant_id": d.TenantID,
		"title":     d.Title,
		"pages":     d.Pages,
		"tags":      d.Tags,
		"sections":  sections,
	}
}
