package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bookstore/config"
)

// Erwartete Kopfzeilen der drei Upload-Dateiarten; Reihenfolge ist fix.
var (
	booksCSVHeader   = []string{"ISBN", "Book-Title", "Book-Author", "Year-Of-Publication", "Publisher"}
	usersCSVHeader   = []string{"User-ID", "Location", "Age"}
	ratingsCSVHeader = []string{"User-ID", "ISBN", "Book-Rating"}
)

// ageNullMarker kennzeichnet in der Users-Datei ein fehlendes Alter.
const ageNullMarker = "NULL"

// UploadService orchestriert den Bulk-Import der CSV-Dateien: Parsen,
// Deduplizieren über natürliche Schlüssel und chunkweises Schreiben in
// Abhängigkeitsreihenfolge, alles innerhalb einer Transaktion pro Datei.
type UploadService struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	ChunkSize int
}

// NewUploadService erstellt eine neue Instanz des UploadService.
func NewUploadService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *UploadService {
	return &UploadService{
		DB:        db,
		Logger:    logger,
		ChunkSize: cfg.UploadChunkSize,
	}
}

// UploadResult fasst zusammen, wie viele Zeilen ein Lauf geschrieben und
// wie viele Rating-Kandidaten er mangels Referenz verworfen hat.
type UploadResult struct {
	Authors        int `json:"authors,omitempty"`
	Publishers     int `json:"publishers,omitempty"`
	Books          int `json:"books,omitempty"`
	Users          int `json:"users,omitempty"`
	Ratings        int `json:"ratings,omitempty"`
	DroppedRatings int `json:"dropped_ratings"`
}

// add summiert die Counts eines weiteren Laufs auf, etwa für die
// Zusammenfassung eines Verzeichnis-Sweeps.
func (r *UploadResult) add(other *UploadResult) {
	r.Authors += other.Authors
	r.Publishers += other.Publishers
	r.Books += other.Books
	r.Users += other.Users
	r.Ratings += other.Ratings
	r.DroppedRatings += other.DroppedRatings
}

// Kandidaten sind die In-Memory-Repräsentationen noch nicht
// persistierter Zeilen; sie tragen ausschließlich natürliche Schlüssel.
type bookCandidate struct {
	ISBN      string
	Title     string
	Author    string
	Publisher string
	Year      int
}

type userCandidate struct {
	ExternalID int64
	Age        *int
	City       *string
	Region     *string
	Country    *string
}

type ratingCandidate struct {
	UserExternalID int64
	ISBN           string
	Score          int
}

type ratingKey struct {
	UserExternalID int64
	ISBN           string
}

// ProcessBooksFile liest eine Books-Datei ein und persistiert Autoren,
// Verlage und Bücher. Autoren und Verlage müssen vor den Büchern
// geschrieben werden, weil die Buch-Inserts deren Ids per Name-Subquery
// auflösen.
func (s *UploadService) ProcessBooksFile(ctx context.Context, file io.Reader) (*UploadResult, error) {
	log := s.Logger.With(zap.String("file_kind", "books"))

	authorNames, publisherNames, bookList, err := parseBooks(file)
	if err != nil {
		log.Error("Books-Datei nicht lesbar", zap.Error(err))
		return nil, fmt.Errorf("processing books file: %w", err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writeBooksRun(ctx, newGormStore(tx), authorNames, publisherNames, bookList)
	})
	if err != nil {
		log.Error("Books-Upload abgebrochen, Transaktion zurückgerollt", zap.Error(err))
		return nil, fmt.Errorf("processing books file: %w", err)
	}

	result := &UploadResult{
		Authors:    len(authorNames),
		Publishers: len(publisherNames),
		Books:      len(bookList),
	}
	log.Info("Books-Datei verarbeitet",
		zap.Int("authors", result.Authors),
		zap.Int("publishers", result.Publishers),
		zap.Int("books", result.Books))
	return result, nil
}

// ProcessUsersFile liest eine Users-Datei ein und persistiert User samt
// abhängiger Adressen.
func (s *UploadService) ProcessUsersFile(ctx context.Context, file io.Reader) (*UploadResult, error) {
	log := s.Logger.With(zap.String("file_kind", "users"))

	userList, err := parseUsers(file)
	if err != nil {
		log.Error("Users-Datei nicht lesbar", zap.Error(err))
		return nil, fmt.Errorf("processing users file: %w", err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.saveUsers(ctx, newGormStore(tx), userList)
	})
	if err != nil {
		log.Error("Users-Upload abgebrochen, Transaktion zurückgerollt", zap.Error(err))
		return nil, fmt.Errorf("processing users file: %w", err)
	}

	result := &UploadResult{Users: len(userList)}
	log.Info("Users-Datei verarbeitet", zap.Int("users", result.Users))
	return result, nil
}

// ProcessRatingsFile liest eine Ratings-Datei ein und persistiert alle
// Bewertungen, deren Buch und User bereits im Bestand sind. Nicht
// auflösbare Kandidaten werden gezählt und verworfen, der Lauf läuft
// weiter.
func (s *UploadService) ProcessRatingsFile(ctx context.Context, file io.Reader) (*UploadResult, error) {
	log := s.Logger.With(zap.String("file_kind", "ratings"))

	ratingList, err := parseRatings(file)
	if err != nil {
		log.Error("Ratings-Datei nicht lesbar", zap.Error(err))
		return nil, fmt.Errorf("processing ratings file: %w", err)
	}

	var inserted, dropped int
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inserted, dropped, txErr = s.saveRatings(ctx, newGormStore(tx), ratingList)
		return txErr
	})
	if err != nil {
		log.Error("Ratings-Upload abgebrochen, Transaktion zurückgerollt", zap.Error(err))
		return nil, fmt.Errorf("processing ratings file: %w", err)
	}

	result := &UploadResult{Ratings: inserted, DroppedRatings: dropped}
	log.Info("Ratings-Datei verarbeitet",
		zap.Int("ratings", result.Ratings),
		zap.Int("dropped_ratings", result.DroppedRatings))
	return result, nil
}

// writeBooksRun schreibt einen kompletten Books-Lauf in
// Abhängigkeitsreihenfolge: erst alle Autoren und Verlage, dann die
// Bücher, deren Inserts die Ids per Name-Subquery auflösen.
func (s *UploadService) writeBooksRun(ctx context.Context, st Store, authorNames, publisherNames []string, books []bookCandidate) error {
	if err := s.saveAuthors(ctx, st, authorNames); err != nil {
		return err
	}
	if err := s.savePublishers(ctx, st, publisherNames); err != nil {
		return err
	}
	return s.saveBooks(ctx, st, books)
}

// parseBooks liest alle Datenzeilen einer Books-Datei und dedupliziert
// über die natürlichen Schlüssel: Autoren und Verlage per Name, Bücher
// per ISBN. Pro ISBN gewinnt die zuletzt gesehene Zeile.
func parseBooks(file io.Reader) (authorNames, publisherNames []string, bookList []bookCandidate, err error) {
	reader := NewRecordReader(file, booksCSVHeader)
	authors := make(map[string]struct{})
	publishers := make(map[string]struct{})
	books := make(map[string]bookCandidate)

	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, nil, err
		}
		book, err := buildBook(record, reader.Line())
		if err != nil {
			return nil, nil, nil, err
		}
		authors[book.Author] = struct{}{}
		publishers[book.Publisher] = struct{}{}
		books[book.ISBN] = book
	}

	bookList = make([]bookCandidate, 0, len(books))
	for _, b := range books {
		bookList = append(bookList, b)
	}
	return setToSlice(authors), setToSlice(publishers), bookList, nil
}

// parseUsers liest alle Datenzeilen einer Users-Datei; pro externer
// User-Id gewinnt die zuletzt gesehene Zeile.
func parseUsers(file io.Reader) ([]userCandidate, error) {
	reader := NewRecordReader(file, usersCSVHeader)
	users := make(map[int64]userCandidate)

	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		user, err := buildUser(record, reader.Line())
		if err != nil {
			return nil, err
		}
		users[user.ExternalID] = user
	}

	userList := make([]userCandidate, 0, len(users))
	for _, u := range users {
		userList = append(userList, u)
	}
	return userList, nil
}

// parseRatings liest alle Datenzeilen einer Ratings-Datei; pro Paar aus
// externer User-Id und ISBN gewinnt die zuletzt gesehene Zeile, Zeilen
// mit Score 0 fliegen schon hier raus.
func parseRatings(file io.Reader) ([]ratingCandidate, error) {
	reader := NewRecordReader(file, ratingsCSVHeader)
	ratings := make(map[ratingKey]ratingCandidate)

	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rating, ok, err := buildRating(record, reader.Line())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Score 0 ist als "keine Bewertung" definiert und wird nie persistiert.
			continue
		}
		ratings[ratingKey{rating.UserExternalID, rating.ISBN}] = rating
	}

	ratingList := make([]ratingCandidate, 0, len(ratings))
	for _, r := range ratings {
		ratingList = append(ratingList, r)
	}
	return ratingList, nil
}

// buildBook baut aus einer Datenzeile die Kandidaten für Buch, Autor und
// Verlag. ISBN und Autorenname werden sanitisiert, der Verlagsname wird
// unverändert übernommen.
func buildBook(record []string, line int) (bookCandidate, error) {
	year, err := strconv.Atoi(record[3])
	if err != nil {
		return bookCandidate{}, fmt.Errorf("%w: line %d: year %q is not a number",
			ErrMalformedFile, line, record[3])
	}
	return bookCandidate{
		ISBN:      Sanitize(record[0]),
		Title:     record[1],
		Author:    Sanitize(record[2]),
		Year:      year,
		Publisher: record[4],
	}, nil
}

// buildUser baut einen User-Kandidaten samt Adresse. Das Alter darf der
// Marker NULL sein; jede andere nicht-numerische Angabe bricht den Lauf ab.
func buildUser(record []string, line int) (userCandidate, error) {
	externalID, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return userCandidate{}, fmt.Errorf("%w: line %d: user id %q is not a number",
			ErrMalformedFile, line, record[0])
	}

	var age *int
	if record[2] != ageNullMarker {
		parsed, err := strconv.Atoi(record[2])
		if err != nil {
			return userCandidate{}, fmt.Errorf("%w: line %d: age %q is not a number",
				ErrMalformedFile, line, record[2])
		}
		age = &parsed
	}

	city, region, country := splitLocation(record[1])
	return userCandidate{
		ExternalID: externalID,
		Age:        age,
		City:       city,
		Region:     region,
		Country:    country,
	}, nil
}

// splitLocation zerlegt das komma-gefügte Location-Feld positionsweise
// in Stadt, Region und Land. Leere Segmente bleiben leer statt
// nachzurücken, damit ein Land nicht zur Region wird ("Kyiv,,Ukraine").
func splitLocation(location string) (city, region, country *string) {
	parts := strings.Split(location, ",")
	slots := make([]*string, 3)
	for i := 0; i < len(slots) && i < len(parts); i++ {
		if v := Sanitize(parts[i]); v != "" {
			slots[i] = &v
		}
	}
	return slots[0], slots[1], slots[2]
}

// buildRating baut einen Rating-Kandidaten; ok ist false für Zeilen mit
// Score 0, die per Definition keine Bewertung darstellen.
func buildRating(record []string, line int) (ratingCandidate, bool, error) {
	externalID, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return ratingCandidate{}, false, fmt.Errorf("%w: line %d: user id %q is not a number",
			ErrMalformedFile, line, record[0])
	}
	score, err := strconv.Atoi(record[2])
	if err != nil {
		return ratingCandidate{}, false, fmt.Errorf("%w: line %d: rating %q is not a number",
			ErrMalformedFile, line, record[2])
	}
	if score == 0 {
		return ratingCandidate{}, false, nil
	}
	return ratingCandidate{
		UserExternalID: externalID,
		ISBN:           Sanitize(record[1]),
		Score:          score,
	}, true, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
