package services

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedFile kennzeichnet strukturell kaputte oder nicht
// konvertierbare Upload-Dateien. Solche Fehler brechen den gesamten
// Lauf ab und werden am HTTP-Rand als Client-Fehler (400) gemeldet.
var ErrMalformedFile = errors.New("malformed csv file")

// Die Quelldateien sind semikolon-getrennt, weil die Freitextfelder
// (Titel, Location) selbst Kommata enthalten.
const (
	fieldDelimiter = ';'
	escapeChar     = '\\'
	quoteChar      = '"'
)

// RecordReader liest eine semikolon-getrennte Datei als Folge von
// Feld-Tupeln gegen eine feste, erwartete Kopfzeile. Die Kopfzeile wird
// beim ersten Next() validiert und konsumiert; jede Datenzeile muss
// exakt die Spaltenzahl der Kopfzeile haben. Leerzeilen werden
// übersprungen, umschließender Whitespace pro Feld entfernt.
type RecordReader struct {
	r       *bufio.Reader
	columns []string
	line    int
	started bool
}

// NewRecordReader erstellt einen Reader für die gegebene Spaltenliste.
func NewRecordReader(r io.Reader, columns []string) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r), columns: columns}
}

// Line gibt die zuletzt gelesene physische Zeilennummer zurück, für
// Fehlermeldungen der nachgelagerten Konvertierung.
func (rr *RecordReader) Line() int {
	return rr.line
}

// Next liefert das nächste Feld-Tupel oder io.EOF am Dateiende.
// Jede strukturelle Verletzung bricht mit ErrMalformedFile ab; eine
// zeilenweise Fehlerbehandlung gibt es auf dieser Ebene bewusst nicht.
func (rr *RecordReader) Next() ([]string, error) {
	if !rr.started {
		rr.started = true
		header, err := rr.readRecord()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header row", ErrMalformedFile)
		}
		if err != nil {
			return nil, err
		}
		if len(header) != len(rr.columns) {
			return nil, fmt.Errorf("%w: header has %d columns, expected %d",
				ErrMalformedFile, len(header), len(rr.columns))
		}
		for i, want := range rr.columns {
			if header[i] != want {
				return nil, fmt.Errorf("%w: header column %d is %q, expected %q",
					ErrMalformedFile, i, header[i], want)
			}
		}
	}

	record, err := rr.readRecord()
	if err != nil {
		return nil, err
	}
	if len(record) != len(rr.columns) {
		return nil, fmt.Errorf("%w: line %d has %d fields, expected %d",
			ErrMalformedFile, rr.line, len(record), len(rr.columns))
	}
	return record, nil
}

// readRecord überspringt Leerzeilen und liefert die nächste Datenzeile.
func (rr *RecordReader) readRecord() ([]string, error) {
	for {
		fields, blank, err := rr.readLine()
		if err != nil {
			return nil, err
		}
		if blank {
			continue
		}
		return fields, nil
	}
}

// readLine zerlegt eine physische Zeile in Felder. Innerhalb von
// Anführungszeichen sind Delimiter und Zeilenumbrüche Teil des Felds;
// der Backslash escapet das jeweils nächste Zeichen.
func (rr *RecordReader) readLine() (fields []string, blank bool, err error) {
	var (
		field      strings.Builder
		inQuotes   bool
		sawContent bool
	)
	rr.line++

	flush := func() {
		fields = append(fields, strings.TrimSpace(field.String()))
		field.Reset()
	}

	for {
		ch, _, readErr := rr.r.ReadRune()
		if readErr == io.EOF {
			if inQuotes {
				return nil, false, fmt.Errorf("%w: line %d: unterminated quote", ErrMalformedFile, rr.line)
			}
			if !sawContent && len(fields) == 0 {
				return nil, false, io.EOF
			}
			flush()
			return fields, false, nil
		}
		if readErr != nil {
			return nil, false, fmt.Errorf("%w: reading input: %v", ErrMalformedFile, readErr)
		}

		switch {
		case ch == '\r' && !inQuotes:
			// Nur CRLF (oder CR direkt am Dateiende) beendet eine Zeile;
			// ein nacktes CR mitten in der Zeile ist ein Strukturfehler.
			next, _, crErr := rr.r.ReadRune()
			if crErr != nil && crErr != io.EOF {
				return nil, false, fmt.Errorf("%w: reading input: %v", ErrMalformedFile, crErr)
			}
			if crErr == nil && next != '\n' {
				return nil, false, fmt.Errorf("%w: line %d: bare carriage return", ErrMalformedFile, rr.line)
			}
			if !sawContent && len(fields) == 0 {
				return nil, true, nil
			}
			flush()
			return fields, false, nil
		case ch == '\n' && !inQuotes:
			if !sawContent && len(fields) == 0 {
				return nil, true, nil
			}
			flush()
			return fields, false, nil
		case ch == '\n':
			field.WriteRune(ch)
			rr.line++
		case ch == escapeChar:
			next, _, escErr := rr.r.ReadRune()
			if escErr == io.EOF {
				return nil, false, fmt.Errorf("%w: line %d: dangling escape", ErrMalformedFile, rr.line)
			}
			if escErr != nil {
				return nil, false, fmt.Errorf("%w: reading input: %v", ErrMalformedFile, escErr)
			}
			field.WriteRune(next)
			sawContent = true
		case ch == quoteChar:
			inQuotes = !inQuotes
			sawContent = true
		case ch == fieldDelimiter && !inQuotes:
			flush()
			sawContent = true
		default:
			field.WriteRune(ch)
			if ch != ' ' && ch != '\t' {
				sawContent = true
			}
		}
	}
}
