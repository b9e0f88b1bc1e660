package models

// Rating ist die Bewertung eines Buchs durch einen User. Das Buch wird
// über die ISBN referenziert, nicht über die Surrogat-Id; pro
// (user_id, book_isbn) existiert höchstens eine Bewertung.
type Rating struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   uint   `json:"user_id" gorm:"column:user_id;uniqueIndex:idx_ratings_user_book"`
	BookISBN string `json:"book_isbn" gorm:"column:book_isbn;uniqueIndex:idx_ratings_user_book"`
	Score    int    `json:"score"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Rating) TableName() string {
	return "ratings"
}
