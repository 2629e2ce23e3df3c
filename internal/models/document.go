package models

// Document is a snapshot of a live wiki document at one version.
// Version 0 means the document does not exist yet.
type Document struct {
	Reference string   `json:"reference"`
	Version   int64    `json:"version"`
	Lines     []string `json:"lines"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	copyDoc := *d
	copyDoc.Lines = append([]string(nil), d.Lines...)
	return &copyDoc
}
