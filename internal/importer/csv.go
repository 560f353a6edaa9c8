package importer

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

const generatedPasswordBytes = 8

// RowError describes a CSV row that was left out of the import.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result is the parsed work list of a user import file.
type Result struct {
	Items   []domain.WorkItem
	Skipped []RowError
}

// ParseUsers reads "email,password[,displayName]" rows after a header row.
// Rows without a password get a random 16 hex character one. Invalid rows
// are reported in Skipped. More than maxRows valid rows is an error.
func ParseUsers(r io.Reader, maxRows int) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: csv file is empty", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read csv header: %v", domain.ErrValidation, err)
	}
	hasDisplayName := len(header) > 2

	result := &Result{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv at line %d: %v", domain.ErrValidation, line, err)
		}
		if isBlank(record) {
			continue
		}

		item, err := rowToItem(record, hasDisplayName)
		if err != nil {
			result.Skipped = append(result.Skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}

		if maxRows > 0 && len(result.Items) >= maxRows {
			return nil, fmt.Errorf("%w: import is limited to %d users", domain.ErrValidation, maxRows)
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

func rowToItem(record []string, hasDisplayName bool) (domain.WorkItem, error) {
	item := domain.WorkItem{Email: strings.TrimSpace(record[0])}

	if len(record) > 1 {
		item.Password = strings.TrimSpace(record[1])
	}
	if item.Password == "" {
		password, err := GeneratePassword()
		if err != nil {
			return domain.WorkItem{}, err
		}
		item.Password = password
	}
	if hasDisplayName && len(record) > 2 {
		item.DisplayName = strings.TrimSpace(record[2])
	}

	if err := item.Validate(domain.OperationUserImport); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// GeneratePassword returns 8 random bytes hex encoded.
func GeneratePassword() (string, error) {
	buf := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
