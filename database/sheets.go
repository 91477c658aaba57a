package database

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"advisor/schemas"
)

// Cells are written verbatim. Parsing them as typed input would turn phones
// like 0412345678 into numbers and break key matching on read back.
const VALUE_INPUT_OPTION = "RAW"

var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsStore keeps leads in a Google Sheets tab. Row ids are sheet row
// numbers; a header row whose first cell reads "Timestamp" is skipped.
type SheetsStore struct {
	svc *sheets.Service
}

// NewSheetsService authenticates with a service-account JSON key.
func NewSheetsService(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*sheets.Service, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	opts = append([]option.ClientOption{option.WithCredentials(creds)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func NewSheetsStore(svc *sheets.Service) *SheetsStore {
	return &SheetsStore{svc: svc}
}

func (s *SheetsStore) Rows(ctx context.Context, target schemas.SheetTarget) ([]schemas.LeadRow, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(target.SheetID, columnsRange(target.Tab)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", target.SheetID, err)
	}

	rows := make([]schemas.LeadRow, 0, len(resp.Values))
	for i, values := range resp.Values {
		if len(values) == 0 || (i == 0 && isHeader(values)) {
			continue
		}
		rows = append(rows, schemas.LeadRow{ID: strconv.Itoa(i + 1), Lead: leadFromValues(values)})
	}
	return rows, nil
}

func (s *SheetsStore) Row(ctx context.Context, target schemas.SheetTarget, id string) (schemas.LeadRow, bool, error) {
	n, err := rowNumber(id)
	if err != nil {
		return schemas.LeadRow{}, false, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(target.SheetID, rowRange(target.Tab, n)).Context(ctx).Do()
	if err != nil {
		return schemas.LeadRow{}, false, fmt.Errorf("read sheet row %d: %w", n, err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 || isHeader(resp.Values[0]) {
		return schemas.LeadRow{}, false, nil
	}
	return schemas.LeadRow{ID: id, Lead: leadFromValues(resp.Values[0])}, true, nil
}

func (s *SheetsStore) Update(ctx context.Context, target schemas.SheetTarget, id string, lead schemas.Lead) error {
	n, err := rowNumber(id)
	if err != nil {
		return err
	}
	body := &sheets.ValueRange{Values: [][]any{leadValues(lead)}}
	_, err = s.svc.Spreadsheets.Values.Update(target.SheetID, rowRange(target.Tab, n), body).
		ValueInputOption(VALUE_INPUT_OPTION).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update sheet row %d: %w", n, err)
	}
	return nil
}

func (s *SheetsStore) Append(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) (string, error) {
	body := &sheets.ValueRange{Values: [][]any{leadValues(lead)}}
	resp, err := s.svc.Spreadsheets.Values.Append(target.SheetID, columnsRange(target.Tab), body).
		ValueInputOption(VALUE_INPUT_OPTION).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append sheet row: %w", err)
	}
	if resp.Updates == nil {
		return "", nil
	}
	return updatedRow(resp.Updates.UpdatedRange), nil
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func columnsRange(tab string) string {
	return quoteTab(tab) + "!A:" + lastColumn
}

func rowRange(tab string, n int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quoteTab(tab), n, lastColumn, n)
}

func rowNumber(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid sheet row id %q", id)
	}
	return n, nil
}

// updatedRow extracts the first row number of an A1 range such as
// "'Sheet1'!A7:I7".
func updatedRow(a1 string) string {
	m := updatedRowPattern.FindStringSubmatch(a1)
	if m == nil {
		return ""
	}
	return m[1]
}
