package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportVersion is bumped when the export document changes shape.
const ExportVersion = 1

// Document is the structured export of an audit log.
type Document struct {
	Version    int         `json:"version"`
	ExportedAt string      `json:"exported_at"`
	Records    []RunRecord `json:"records"`
}

// Export renders every record, in order, as an indented JSON document.
func (l *Log) Export() ([]byte, error) {
	recs, err := l.Records(Filter{})
	if err != nil {
		return nil, err
	}
	return MarshalDocument(recs, l.now())
}

// MarshalDocument builds an export document for recs.
func MarshalDocument(recs []RunRecord, at time.Time) ([]byte, error) {
	if recs == nil {
		recs = []RunRecord{}
	}
	doc := Document{
		Version:    ExportVersion,
		ExportedAt: at.UTC().Format(TimestampFormat),
		Records:    recs,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: marshal export: %w", err)
	}
	return data, nil
}

// ParseExport reads a document produced by Export.
func ParseExport(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("audit: parse export: %w", err)
	}
	if doc.Version != ExportVersion {
		return nil, fmt.Errorf("audit: unsupported export version %d", doc.Version)
	}
	return &doc, nil
}
