// Package pdfmeta reads the document information dictionary of a PDF.
//
// pdfcpu is tried first. Files it refuses (broken xref, odd producers) go
// through the more lenient ledongthuc/pdf reader before being reported as
// unreadable.
package pdfmeta

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrUnreadable is returned when no reader can open the PDF container.
var ErrUnreadable = errors.New("pdfmeta: unreadable pdf")

func init() {
	// Keep pdfcpu from creating a config directory under $HOME.
	api.DisableConfigDir()
}

// Metadata holds the fields of the info dictionary this module cares about.
// Dates are nil when absent or malformed.
type Metadata struct {
	Title        string     `json:"title,omitempty"`
	Producer     string     `json:"producer,omitempty"`
	CreationDate *time.Time `json:"creation_date"`
	ModDate      *time.Time `json:"mod_date,omitempty"`
	// Reader names the backend that produced the result ("pdfcpu" or "fallback").
	Reader string `json:"reader"`
}

// CreationDate returns the parsed CreationDate of data.
// A nil time with a nil error means the field is absent or malformed.
func CreationDate(data []byte) (*time.Time, error) {
	md, err := Read(data)
	if err != nil {
		return nil, err
	}
	return md.CreationDate, nil
}

// Read extracts the info dictionary of data.
func Read(data []byte) (*Metadata, error) {
	raw, err := readPDFCPU(data)
	if err == nil {
		return raw.metadata("pdfcpu"), nil
	}
	raw, ferr := readFallback(data)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return raw.metadata("fallback"), nil
}

// rawInfo is the undecoded string form of the info dictionary entries.
type rawInfo map[string]string

func (r rawInfo) metadata(reader string) *Metadata {
	md := &Metadata{
		Title:    r["Title"],
		Producer: r["Producer"],
		Reader:   reader,
	}
	if t, ok := ParseDate(r["CreationDate"]); ok {
		md.CreationDate = &t
	}
	if t, ok := ParseDate(r["ModDate"]); ok {
		md.ModDate = &t
	}
	return md
}

var infoKeys = []string{"Title", "Producer", "CreationDate", "ModDate"}

func readPDFCPU(data []byte) (rawInfo, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	info := rawInfo{}
	if ctx.Info == nil {
		return info, nil
	}
	d, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil || d == nil {
		// A dangling /Info reference is treated as no metadata.
		return info, nil
	}

	for _, key := range infoKeys {
		o, found := d.Find(key)
		if !found {
			continue
		}
		o, err = ctx.Dereference(o)
		if err != nil || o == nil {
			continue
		}
		var s string
		switch v := o.(type) {
		case types.StringLiteral:
			s, err = types.StringLiteralToString(v)
		case types.HexLiteral:
			s, err = types.HexLiteralToString(v)
		default:
			continue
		}
		if err != nil {
			continue
		}
		info[key] = s
	}
	return info, nil
}

func readFallback(data []byte) (info rawInfo, err error) {
	// ledongthuc/pdf panics on some malformed objects.
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("fallback reader: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("fallback reader: %w", err)
	}

	info = rawInfo{}
	dict := r.Trailer().Key("Info")
	if dict.IsNull() {
		return info, nil
	}
	for _, key := range infoKeys {
		v := dict.Key(key)
		if v.Kind() != pdf.String {
			continue
		}
		info[key] = v.Text()
	}
	return info, nil
}
