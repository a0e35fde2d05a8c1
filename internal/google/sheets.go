package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"bookslot/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	bookingsSheet  = "Bookings"
	lastColumn     = "I"
	statusColumn   = "E"
	updatedColumn  = "I"
	sheetTimestamp = "2006-01-02 15:04:05"
)

var bookingHeaders = []interface{}{"UID", "Title", "Start (UTC)", "End (UTC)", "Status", "Location", "Rescheduled From", "Cancellation Reason", "Updated At"}

var errRowNotFound = errors.New("booking row not found")

// updatedRowRe extracts the first row number from an A1 range like "Bookings!A10:I10".
var updatedRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsService mirrors bookings into one spreadsheet, one row per booking uid.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *zerolog.Logger

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsService(srv, spreadsheetID, logger), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *SheetsService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[string]int),
	}
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the header row.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, bookingsSheet+"!A1:"+lastColumn+"1", &sheets.ValueRange{
		Values: [][]interface{}{bookingHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache populates the row index cache by reading the entire UID column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if uid := cellString(row); uid != "" && i > 0 {
			cache[uid] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// RunCacheRefresh re-reads the row index every interval until ctx is done.
func (s *SheetsService) RunCacheRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := s.WarmUpCache(refreshCtx); err != nil {
				s.logger.Warn().Err(err).Msg("sheets cache refresh failed")
			}
			cancel()
		}
	}
}

// UpsertBooking updates an existing booking row or appends a new one if not found.
func (s *SheetsService) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.UID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", bookingsSheet, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsService) appendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, bookingsSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if m := updatedRowRe.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
			if row, convErr := strconv.Atoi(m[1]); convErr == nil {
				s.setCachedRow(booking.UID, row)
			}
		}
	}
	return nil
}

// UpdateBookingStatus updates status and Updated At for a booking row.
func (s *SheetsService) UpdateBookingStatus(ctx context.Context, uid, status string) error {
	rowIdx, err := s.FindBookingRow(ctx, uid)
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!%s%d", bookingsSheet, statusColumn, rowIdx)
	updatedRange := fmt.Sprintf("%s!%s%d", bookingsSheet, updatedColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data: []*sheets.ValueRange{
			{Range: statusRange, Values: [][]interface{}{{status}}},
			{Range: updatedRange, Values: [][]interface{}{{time.Now().UTC().Format(sheetTimestamp)}}},
		},
	}).Context(ctx).Do()
	return err
}

// FindBookingRow locates the 1-based row of uid in column A, using the cache first.
func (s *SheetsService) FindBookingRow(ctx context.Context, uid string) (int, error) {
	if uid == "" {
		return 0, errors.New("booking uid is required")
	}

	if row, ok := s.getCachedRow(uid); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if cellString(row) == uid {
			s.setCachedRow(uid, i+1)
			return i + 1, nil
		}
	}

	return 0, errRowNotFound
}

func (s *SheetsService) getCachedRow(uid string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[uid]
	return row, ok
}

func (s *SheetsService) setCachedRow(uid string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[uid] = row
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	if v, ok := row[0].(string); ok {
		return v
	}
	return fmt.Sprint(row[0])
}

func bookingRowValues(b *models.Booking) []interface{} {
	updated := b.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []interface{}{
		b.UID,
		b.Title,
		b.StartTime.UTC().Format(sheetTimestamp),
		b.EndTime.UTC().Format(sheetTimestamp),
		b.Status,
		b.LocationKind,
		b.RescheduledFromUID,
		b.CancellationReason,
		updated.UTC().Format(sheetTimestamp),
	}
}
