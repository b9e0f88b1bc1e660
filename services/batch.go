package services

import (
	"context"
	"fmt"
	"strings"

	"bookstore/models"
)

// DefaultChunkSize begrenzt die Zeilenzahl pro Bulk-Insert. Groß genug,
// um Roundtrips zu amortisieren, klein genug für stabile Statementgrößen
// bei Millionen-Zeilen-Dateien.
const DefaultChunkSize = 1000

// chunked zerlegt eine Liste in Stücke fester Größe; das letzte Stück
// darf kürzer sein.
func chunked[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

func (s *UploadService) chunkSize() int {
	if s.ChunkSize > 0 {
		return s.ChunkSize
	}
	return DefaultChunkSize
}

// saveAuthors schreibt die deduplizierten Autorennamen chunkweise; die
// Surrogat-Ids vergibt die Postgres-Sequenz.
func (s *UploadService) saveAuthors(ctx context.Context, st Store, names []string) error {
	for _, chunk := range chunked(names, s.chunkSize()) {
		rows := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk))
		for _, name := range chunk {
			rows = append(rows, "(nextval('authors_id_seq'), ?)")
			args = append(args, name)
		}
		sql := "INSERT INTO authors(id, name) VALUES " + strings.Join(rows, ", ")
		if err := st.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting authors chunk: %w", err)
		}
	}
	return nil
}

func (s *UploadService) savePublishers(ctx context.Context, st Store, names []string) error {
	for _, chunk := range chunked(names, s.chunkSize()) {
		rows := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk))
		for _, name := range chunk {
			rows = append(rows, "(nextval('publishers_id_seq'), ?)")
			args = append(args, name)
		}
		sql := "INSERT INTO publishers(id, name) VALUES " + strings.Join(rows, ", ")
		if err := st.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting publishers chunk: %w", err)
		}
	}
	return nil
}

// saveBooks löst Autor- und Verlags-Id per Name-Subquery direkt im
// Insert auf. Die Ids der soeben eingefügten Autoren/Verlage sind im
// Speicher nicht bekannt; deshalb müssen beide Tabellen vor den Büchern
// geschrieben worden sein.
func (s *UploadService) saveBooks(ctx context.Context, st Store, books []bookCandidate) error {
	const row = "(nextval('books_id_seq'), ?, ?, " +
		"(SELECT p.id FROM publishers p WHERE p.name = ?), " +
		"(SELECT a.id FROM authors a WHERE a.name = ?), ?)"

	for _, chunk := range chunked(books, s.chunkSize()) {
		rows := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*5)
		for _, b := range chunk {
			rows = append(rows, row)
			args = append(args, b.ISBN, b.Title, b.Publisher, b.Author, b.Year)
		}
		sql := "INSERT INTO books(id, isbn, title, publisher_id, author_id, year) VALUES " +
			strings.Join(rows, ", ")
		if err := st.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting books chunk: %w", err)
		}
	}
	return nil
}

// saveUsers schreibt pro Chunk zwei Statements: erst die User, dann die
// abhängigen Adressen, deren user_id per External-Id-Subquery aufgelöst
// wird (die Adresse hat keine eigene Sequenz).
func (s *UploadService) saveUsers(ctx context.Context, st Store, users []userCandidate) error {
	for _, chunk := range chunked(users, s.chunkSize()) {
		userRows := make([]string, 0, len(chunk))
		userArgs := make([]any, 0, len(chunk)*2)
		addrRows := make([]string, 0, len(chunk))
		addrArgs := make([]any, 0, len(chunk)*4)
		for _, u := range chunk {
			userRows = append(userRows, "(nextval('users_id_seq'), ?, ?)")
			userArgs = append(userArgs, u.ExternalID, u.Age)

			addrRows = append(addrRows, "((SELECT u.id FROM users u WHERE u.external_id = ?), ?, ?, ?)")
			addrArgs = append(addrArgs, u.ExternalID, u.City, u.Region, u.Country)
		}

		sql := "INSERT INTO users(id, external_id, age) VALUES " + strings.Join(userRows, ", ")
		if err := st.Exec(ctx, sql, userArgs...); err != nil {
			return fmt.Errorf("inserting users chunk: %w", err)
		}

		sql = "INSERT INTO address(user_id, city, region, country) VALUES " + strings.Join(addrRows, ", ")
		if err := st.Exec(ctx, sql, addrArgs...); err != nil {
			return fmt.Errorf("inserting addresses chunk: %w", err)
		}
	}
	return nil
}

// saveRatings löst pro Chunk die referenzierten Bücher und User per
// Bulk-Lookup auf und schreibt nur die auflösbaren Kandidaten. Der
// Rückgabewert ist (eingefügt, verworfen).
func (s *UploadService) saveRatings(ctx context.Context, st Store, ratings []ratingCandidate) (int, int, error) {
	inserted, dropped := 0, 0
	for _, chunk := range chunked(ratings, s.chunkSize()) {
		resolved, chunkDropped, err := s.resolveRatingsChunk(ctx, st, chunk)
		if err != nil {
			return inserted, dropped, err
		}
		dropped += chunkDropped
		if len(resolved) == 0 {
			continue
		}

		rows := make([]string, 0, len(resolved))
		args := make([]any, 0, len(resolved)*3)
		for _, r := range resolved {
			rows = append(rows, "(?, ?, ?)")
			args = append(args, r.UserID, r.BookISBN, r.Score)
		}
		sql := "INSERT INTO ratings(user_id, book_isbn, score) VALUES " + strings.Join(rows, ", ")
		if err := st.Exec(ctx, sql, args...); err != nil {
			return inserted, dropped, fmt.Errorf("inserting ratings chunk: %w", err)
		}
		inserted += len(resolved)
	}
	return inserted, dropped, nil
}

// resolveRatingsChunk übersetzt die natürlichen Schlüssel eines Chunks
// (ISBN, externe User-Id) in persistierte Entitäten. Kandidaten, deren
// Buch oder User fehlt, werden stillschweigend verworfen: fehlende
// Referenzen sind in den Quelldaten erwartbares Rauschen, kein Fehler.
func (s *UploadService) resolveRatingsChunk(ctx context.Context, st Store, chunk []ratingCandidate) ([]models.Rating, int, error) {
	isbnSet := make(map[string]struct{}, len(chunk))
	idSet := make(map[int64]struct{}, len(chunk))
	for _, c := range chunk {
		isbnSet[c.ISBN] = struct{}{}
		idSet[c.UserExternalID] = struct{}{}
	}
	isbns := make([]string, 0, len(isbnSet))
	for isbn := range isbnSet {
		isbns = append(isbns, isbn)
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	books, err := st.BooksByISBN(ctx, isbns)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving books by isbn: %w", err)
	}
	users, err := st.UsersByExternalID(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving users by external id: %w", err)
	}

	resolved := make([]models.Rating, 0, len(chunk))
	dropped := 0
	for _, c := range chunk {
		book, haveBook := books[c.ISBN]
		user, haveUser := users[c.UserExternalID]
		if !haveBook || !haveUser {
			dropped++
			continue
		}
		resolved = append(resolved, models.Rating{
			UserID:   user.ID,
			BookISBN: book.ISBN,
			Score:    c.Score,
		})
	}
	return resolved, dropped, nil
}
