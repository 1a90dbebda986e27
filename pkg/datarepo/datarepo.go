// Package datarepo holds the table request family: uploads of delimited
// files into named tables, previews of those files, and the row filters
// both can carry.
package datarepo

import (
	"github.com/Abraxas-365/repohub/pkg/wirex"
)

// TableRequest is the family every table job request belongs to.
type TableRequest interface {
	wirex.Entity
	TableSource() string
}

// UploadJob loads File into Table. Rows that fail Filter are skipped.
type UploadJob struct {
	File      string                  `json:"file"`
	Table     string                  `json:"table"`
	Delimiter string                  `json:"delimiter,omitempty"`
	Filter    wirex.Nested[RowFilter] `json:"filter,omitzero"`
}

func (*UploadJob) ConcreteType() string  { return "UploadJob" }
func (j *UploadJob) TableSource() string { return j.File }

// UploadResult reports what an UploadJob loaded.
type UploadResult struct {
	Table   string   `json:"table,omitempty"`
	Rows    int64    `json:"rows"`
	Skipped int64    `json:"skipped,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

func (*UploadResult) ConcreteType() string { return "UploadResult" }

// PreviewTable reads the first Limit matching rows of File without loading it.
type PreviewTable struct {
	File      string                  `json:"file"`
	Delimiter string                  `json:"delimiter,omitempty"`
	Limit     int                     `json:"limit,omitempty"`
	Filter    wirex.Nested[RowFilter] `json:"filter,omitzero"`
}

func (*PreviewTable) ConcreteType() string  { return "PreviewTable" }
func (p *PreviewTable) TableSource() string { return p.File }

// PreviewResult is the header and sample rows of a file.
type PreviewResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (*PreviewResult) ConcreteType() string { return "PreviewResult" }

// Register adds every datarepo type to reg.
func Register(reg *wirex.Registry) error {
	for _, register := range []func(*wirex.Registry) error{
		wirex.RegisterType[UploadJob],
		wirex.RegisterType[UploadResult],
		wirex.RegisterType[PreviewTable],
		wirex.RegisterType[PreviewResult],
		wirex.RegisterType[ColumnEquals],
		wirex.RegisterType[ColumnNotEmpty],
		wirex.RegisterType[AnyOf],
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}
