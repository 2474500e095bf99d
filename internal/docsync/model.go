package docsync

import "time"

const defaultDocumentName = "Untitled Document"

// Document models the durable snapshot of one replicated document. Data holds
// the encoded CRDT state; the live in-memory instance lives in the engine cache.
type Document struct {
	DocID     string    `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Workspace string    `gorm:"column:workspace;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null;default:'Untitled Document'"`
	Data      []byte    `gorm:"column:data;type:blob"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}
