package services

import (
	"context"

	"gorm.io/gorm"

	"bookstore/models"
)

// Store bündelt die Persistenz-Primitiven, die der Batch-Writer und der
// Key-Resolver benötigen: parametrisierte Bulk-Statements und die
// Auflösung natürlicher Schlüssel in bereits persistierte Entitäten.
// Die Schnittstelle hält den Writer frei von GORM und damit testbar.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	BooksByISBN(ctx context.Context, isbns []string) (map[string]models.Book, error)
	UsersByExternalID(ctx context.Context, ids []int64) (map[int64]models.User, error)
}

// gormStore ist die GORM-Implementierung des Store über einer laufenden
// Transaktion.
type gormStore struct {
	db *gorm.DB
}

func newGormStore(tx *gorm.DB) gormStore {
	return gormStore{db: tx}
}

func (s gormStore) Exec(ctx context.Context, sql string, args ...any) error {
	return s.db.WithContext(ctx).Exec(sql, args...).Error
}

func (s gormStore) BooksByISBN(ctx context.Context, isbns []string) (map[string]models.Book, error) {
	var books []models.Book
	if err := s.db.WithContext(ctx).Where("isbn IN ?", isbns).Find(&books).Error; err != nil {
		return nil, err
	}
	byISBN := make(map[string]models.Book, len(books))
	for _, b := range books {
		byISBN[b.ISBN] = b
	}
	return byISBN, nil
}

func (s gormStore) UsersByExternalID(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("external_id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byExternalID := make(map[int64]models.User, len(users))
	for _, u := range users {
		byExternalID[u.ExternalID] = u
	}
	return byExternalID, nil
}
