// Package banks maps German bank codes to their FinTS endpoints. The
// directory ships embedded; hosts with fresher institute lists can load their
// own at startup.
package banks

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrUnknownBank is returned for bank codes missing from the directory.
var ErrUnknownBank = errors.New("bank code not in directory")

// Bank is one directory entry.
type Bank struct {
	Code     string
	Name     string
	Endpoint string
}

//go:embed data/institutes.csv
var embeddedDirectory []byte

// Directory is an immutable bank-code index.
type Directory struct {
	byCode map[string]Bank
}

// Load parses a semicolon-separated directory: code;name;endpoint, one
// institute per line, # comments allowed.
func Load(r io.Reader) (*Directory, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	byCode := make(map[string]Bank)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse bank directory: %w", err)
		}
		code := record[0]
		if code == "" {
			continue
		}
		byCode[code] = Bank{Code: code, Name: record[1], Endpoint: record[2]}
	}
	return &Directory{byCode: byCode}, nil
}

// Lookup resolves a bank code.
func (d *Directory) Lookup(code string) (Bank, error) {
	if d == nil {
		return Bank{}, ErrUnknownBank
	}
	bank, ok := d.byCode[code]
	if !ok {
		return Bank{}, fmt.Errorf("%w: %s", ErrUnknownBank, code)
	}
	return bank, nil
}

// Len reports the number of institutes in the directory.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byCode)
}

var (
	embeddedOnce sync.Once
	embeddedDir  *Directory
	embeddedErr  error
)

// Embedded returns the directory compiled into the binary.
func Embedded() (*Directory, error) {
	embeddedOnce.Do(func() {
		embeddedDir, embeddedErr = Load(bytes.NewReader(embeddedDirectory))
	})
	return embeddedDir, embeddedErr
}
