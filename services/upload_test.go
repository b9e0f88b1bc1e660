package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookstore/models"
)

type execCall struct {
	sql  string
	args []any
}

// fakeStore zeichnet alle Exec-Aufrufe auf und beantwortet Lookups aus
// vorbefüllten Maps.
type fakeStore struct {
	calls []execCall
	books map[string]models.Book
	users map[int64]models.User
}

func (f *fakeStore) Exec(ctx context.Context, sql string, args ...any) error {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return nil
}

func (f *fakeStore) BooksByISBN(ctx context.Context, isbns []string) (map[string]models.Book, error) {
	found := make(map[string]models.Book)
	for _, isbn := range isbns {
		if b, ok := f.books[isbn]; ok {
			found[isbn] = b
		}
	}
	return found, nil
}

func (f *fakeStore) UsersByExternalID(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	found := make(map[int64]models.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			found[id] = u
		}
	}
	return found, nil
}

func testService(chunkSize int) *UploadService {
	return &UploadService{Logger: zap.NewNop(), ChunkSize: chunkSize}
}

func booksFile(rows ...string) string {
	return strings.Join(booksCSVHeader, ";") + "\n" + strings.Join(rows, "\n") + "\n"
}

func usersFile(rows ...string) string {
	return strings.Join(usersCSVHeader, ";") + "\n" + strings.Join(rows, "\n") + "\n"
}

func ratingsFile(rows ...string) string {
	return strings.Join(ratingsCSVHeader, ";") + "\n" + strings.Join(rows, "\n") + "\n"
}

func TestParseBooks(t *testing.T) {
	input := booksFile(
		"'0195153448';Classical Mythology;'Mark P. O. Morford';2002;Oxford University Press",
		"0195153448;Classical Mythology (2nd Ed.);'Mark P. O. Morford';2003;Oxford University Press",
		"0440234743;The Testament;John Grisham;1999;Dell",
	)

	authors, publishers, books, err := parseBooks(strings.NewReader(input))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Mark P. O. Morford", "John Grisham"}, authors,
		"Autoren werden per sanitisiertem Namen dedupliziert")
	assert.ElementsMatch(t, []string{"Oxford University Press", "Dell"}, publishers)

	require.Len(t, books, 2, "pro ISBN bleibt genau ein Buch")
	byISBN := make(map[string]bookCandidate)
	for _, b := range books {
		byISBN[b.ISBN] = b
	}
	require.Contains(t, byISBN, "0195153448")
	assert.Equal(t, "Classical Mythology (2nd Ed.)", byISBN["0195153448"].Title,
		"bei doppelter ISBN gewinnt die letzte Zeile")
	assert.Equal(t, 2003, byISBN["0195153448"].Year)
}

func TestParseBooksInvalidYear(t *testing.T) {
	_, _, _, err := parseBooks(strings.NewReader(booksFile(
		"0440234743;The Testament;John Grisham;kein-jahr;Dell",
	)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFile)
}

func TestParseUsers(t *testing.T) {
	input := usersFile(
		"1;Kyiv,,Ukraine;NULL",
		"2;'nyc, new york, usa';24",
		"2;stockton, california, usa;18",
	)

	users, err := parseUsers(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, users, 2, "pro externer Id bleibt genau ein User")

	byID := make(map[int64]userCandidate)
	for _, u := range users {
		byID[u.ExternalID] = u
	}

	kyiv := byID[1]
	assert.Nil(t, kyiv.Age, "NULL-Marker ergibt kein Alter")
	require.NotNil(t, kyiv.City)
	assert.Equal(t, "Kyiv", *kyiv.City)
	assert.Nil(t, kyiv.Region, "leeres Segment rückt nicht nach")
	require.NotNil(t, kyiv.Country)
	assert.Equal(t, "Ukraine", *kyiv.Country)

	stockton := byID[2]
	require.NotNil(t, stockton.Age)
	assert.Equal(t, 18, *stockton.Age, "bei doppelter Id gewinnt die letzte Zeile")
	require.NotNil(t, stockton.City)
	assert.Equal(t, "stockton", *stockton.City)
	require.NotNil(t, stockton.Region)
	assert.Equal(t, "california", *stockton.Region)
}

func TestParseUsersInvalidAge(t *testing.T) {
	_, err := parseUsers(strings.NewReader(usersFile("1;Kyiv,,Ukraine;vierzig")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFile)
}

func TestParseRatings(t *testing.T) {
	input := ratingsFile(
		"276725;'034545104X';0",
		"276726;0155061224;5",
		"276726;0155061224;7",
	)

	ratings, err := parseRatings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ratings, 1, "Score 0 fliegt raus, Duplikate kollabieren")
	assert.Equal(t, int64(276726), ratings[0].UserExternalID)
	assert.Equal(t, "0155061224", ratings[0].ISBN)
	assert.Equal(t, 7, ratings[0].Score, "bei doppeltem Paar gewinnt die letzte Zeile")
}

func TestSaveAuthorsChunking(t *testing.T) {
	names := make([]string, 25)
	for i := range names {
		names[i] = fmt.Sprintf("Author %02d", i)
	}

	st := &fakeStore{}
	svc := testService(10)
	require.NoError(t, svc.saveAuthors(context.Background(), st, names))

	require.Len(t, st.calls, 3, "25 Namen mit Chunk-Größe 10 ergeben 3 Statements")
	assert.Len(t, st.calls[0].args, 10)
	assert.Len(t, st.calls[1].args, 10)
	assert.Len(t, st.calls[2].args, 5)
	for _, call := range st.calls {
		assert.True(t, strings.HasPrefix(call.sql, "INSERT INTO authors(id, name) VALUES "), call.sql)
		assert.Contains(t, call.sql, "nextval('authors_id_seq')")
	}
}

func TestWriteBooksRunOrdering(t *testing.T) {
	authors := make([]string, 12)
	publishers := make([]string, 12)
	books := make([]bookCandidate, 25)
	for i := range authors {
		authors[i] = fmt.Sprintf("Author %02d", i)
		publishers[i] = fmt.Sprintf("Publisher %02d", i)
	}
	for i := range books {
		books[i] = bookCandidate{
			ISBN:      fmt.Sprintf("isbn-%02d", i),
			Title:     fmt.Sprintf("Title %02d", i),
			Author:    authors[i%len(authors)],
			Publisher: publishers[i%len(publishers)],
			Year:      2000 + i,
		}
	}

	st := &fakeStore{}
	svc := testService(10)
	require.NoError(t, svc.writeBooksRun(context.Background(), st, authors, publishers, books))

	firstBook := -1
	lastDimension := -1
	bookStatements := 0
	for i, call := range st.calls {
		switch {
		case strings.HasPrefix(call.sql, "INSERT INTO books"):
			bookStatements++
			if firstBook == -1 {
				firstBook = i
			}
		case strings.HasPrefix(call.sql, "INSERT INTO authors"),
			strings.HasPrefix(call.sql, "INSERT INTO publishers"):
			lastDimension = i
		default:
			t.Fatalf("unerwartetes Statement: %s", call.sql)
		}
	}

	require.NotEqual(t, -1, firstBook)
	assert.Less(t, lastDimension, firstBook,
		"alle Autoren- und Verlags-Inserts müssen vor dem ersten Buch-Insert laufen")
	assert.Equal(t, 3, bookStatements, "25 Bücher mit Chunk-Größe 10 ergeben 3 Statements")
}

func TestSaveBooksResolvesIdsPerSubquery(t *testing.T) {
	st := &fakeStore{}
	svc := testService(0)
	books := []bookCandidate{{
		ISBN:      "0440234743",
		Title:     "The Testament",
		Author:    "John Grisham",
		Publisher: "Dell",
		Year:      1999,
	}}
	require.NoError(t, svc.saveBooks(context.Background(), st, books))

	require.Len(t, st.calls, 1)
	call := st.calls[0]
	assert.Contains(t, call.sql, "nextval('books_id_seq')")
	assert.Contains(t, call.sql, "SELECT p.id FROM publishers p WHERE p.name = ?")
	assert.Contains(t, call.sql, "SELECT a.id FROM authors a WHERE a.name = ?")
	assert.Equal(t, []any{"0440234743", "The Testament", "Dell", "John Grisham", 1999}, call.args)
}

func TestSaveUsersWritesUsersThenAddresses(t *testing.T) {
	age := 24
	st := &fakeStore{}
	svc := testService(0)
	city, region, country := "nyc", "new york", "usa"
	users := []userCandidate{
		{ExternalID: 2, Age: &age, City: &city, Region: &region, Country: &country},
		{ExternalID: 1},
	}
	require.NoError(t, svc.saveUsers(context.Background(), st, users))

	require.Len(t, st.calls, 2, "pro Chunk ein User- und ein Adress-Statement")
	assert.True(t, strings.HasPrefix(st.calls[0].sql, "INSERT INTO users(id, external_id, age) VALUES "))
	assert.Contains(t, st.calls[0].sql, "nextval('users_id_seq')")
	assert.Len(t, st.calls[0].args, 4)

	assert.True(t, strings.HasPrefix(st.calls[1].sql, "INSERT INTO address(user_id, city, region, country) VALUES "))
	assert.Contains(t, st.calls[1].sql, "SELECT u.id FROM users u WHERE u.external_id = ?")
	assert.Len(t, st.calls[1].args, 8)
}

func TestSaveRatingsDropsUnresolvable(t *testing.T) {
	st := &fakeStore{
		books: map[string]models.Book{
			"0155061224": {ID: 7, ISBN: "0155061224"},
		},
		users: map[int64]models.User{
			276726: {ID: 3, ExternalID: 276726},
		},
	}
	svc := testService(0)
	ratings := []ratingCandidate{
		{UserExternalID: 276726, ISBN: "0155061224", Score: 5},
		{UserExternalID: 276726, ISBN: "fehlt", Score: 8},
		{UserExternalID: 999, ISBN: "0155061224", Score: 9},
	}

	inserted, dropped, err := svc.saveRatings(context.Background(), st, ratings)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 2, dropped, "fehlendes Buch und fehlender User werden verworfen")

	require.Len(t, st.calls, 1)
	assert.True(t, strings.HasPrefix(st.calls[0].sql, "INSERT INTO ratings(user_id, book_isbn, score) VALUES "))
	assert.Equal(t, []any{uint(3), "0155061224", 5}, st.calls[0].args)
}

func TestSaveRatingsAllUnresolvable(t *testing.T) {
	st := &fakeStore{}
	svc := testService(0)
	inserted, dropped, err := svc.saveRatings(context.Background(), st,
		[]ratingCandidate{{UserExternalID: 1, ISBN: "x", Score: 5}})
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, st.calls, "ohne auflösbare Kandidaten wird kein Insert abgesetzt")
}

func TestProcessBooksFileMalformed(t *testing.T) {
	// DB bleibt nil: bei einer kaputten Datei darf die Pipeline gar
	// nicht erst bis zur Transaktion kommen.
	svc := testService(0)
	_, err := svc.ProcessBooksFile(context.Background(), strings.NewReader("Falsch;Header\n1;2\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFile)
}

func TestChunked(t *testing.T) {
	assert.Nil(t, chunked([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}}, chunked([]int{1, 2, 3}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}, {4}}, chunked([]int{1, 2, 3, 4}, 3))
}
