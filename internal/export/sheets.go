package export

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cityshift/internal/events"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	timeLayout    = "2006-01-02 15:04:05"
	queueSize     = 256
	appendTimeout = 15 * time.Second
)

type valuesAppender interface {
	Append(ctx context.Context, rng string, rows [][]interface{}) error
}

type sheetsAppender struct {
	srv           *sheets.Service
	spreadsheetID string
}

func (a *sheetsAppender) Append(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := a.srv.Spreadsheets.Values.Append(a.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// SheetsExporter appends submitted schedules and sent reports to a Google
// spreadsheet. Event handlers only queue rows; Run does the appends.
type SheetsExporter struct {
	appender  valuesAppender
	sheetName string
	logger    *zerolog.Logger
	now       func() time.Time
	rows      chan []interface{}
	timeout   time.Duration
}

// NewSheetsExporter authenticates with a service account key file.
func NewSheetsExporter(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*SheetsExporter, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newSheetsExporter(&sheetsAppender{srv: srv, spreadsheetID: spreadsheetID}, sheetName, logger), nil
}

func newSheetsExporter(appender valuesAppender, sheetName string, logger *zerolog.Logger) *SheetsExporter {
	l := logger.With().Str("component", "sheets").Logger()
	return &SheetsExporter{
		appender:  appender,
		sheetName: sheetName,
		logger:    &l,
		now:       time.Now,
		rows:      make(chan []interface{}, queueSize),
		timeout:   appendTimeout,
	}
}

// Subscribe queues a row for every schedule.saved and report.sent event.
func (e *SheetsExporter) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.TypeScheduleSaved, func(_ context.Context, ev events.Event) error {
		var p events.ScheduleSaved
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return e.enqueue(scheduleRowValues(p, e.now()))
	})
	bus.Subscribe(events.TypeReportSent, func(_ context.Context, ev events.Event) error {
		var p events.ReportSent
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return e.enqueue(reportRowValues(p, e.now()))
	})
}

// enqueue never blocks; a row that does not fit is dropped.
func (e *SheetsExporter) enqueue(row []interface{}) error {
	select {
	case e.rows <- row:
		return nil
	default:
		return fmt.Errorf("sheets queue full, dropping %v row", row[0])
	}
}

// Run appends queued rows until ctx is done, then flushes what is left.
func (e *SheetsExporter) Run(ctx context.Context) {
	for {
		select {
		case row := <-e.rows:
			e.flush(row)
		case <-ctx.Done():
			for {
				select {
				case row := <-e.rows:
					e.flush(row)
				default:
					return
				}
			}
		}
	}
}

// flush appends one row, bounded by the exporter timeout.
func (e *SheetsExporter) flush(row []interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	err := e.append(ctx, row)
	if err != nil {
		e.logger.Error().Err(err).Msg("sheets append failed")
	}
	return err
}

func (e *SheetsExporter) append(ctx context.Context, row []interface{}) error {
	rng := fmt.Sprintf("%s!A1", e.sheetName)
	if err := e.appender.Append(ctx, rng, [][]interface{}{row}); err != nil {
		return fmt.Errorf("append to %s: %w", rng, err)
	}
	e.logger.Debug().Str("kind", fmt.Sprint(row[0])).Msg("row appended")
	return nil
}

func scheduleRowValues(p events.ScheduleSaved, at time.Time) []interface{} {
	return []interface{}{
		"schedule",
		p.Date,
		p.City,
		p.WorkerID,
		strings.Join(p.Intervals, ", "),
		p.NonWorkingHours,
		at.Format(timeLayout),
	}
}

func reportRowValues(p events.ReportSent, at time.Time) []interface{} {
	return []interface{}{
		"report",
		p.Date,
		p.City,
		p.Workers,
		p.Submitted,
		p.NonWorkingHours,
		at.Format(timeLayout),
	}
}
