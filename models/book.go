package models

// Book repräsentiert ein Buch. Die ISBN ist der natürliche Schlüssel,
// über den Ratings referenziert werden; Autor und Verlag hängen als
// Fremdschlüssel auf deren Surrogat-Ids.
type Book struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	ISBN  string `json:"isbn" gorm:"column:isbn;uniqueIndex;not null"`
	Title string `json:"title"`
	Year  int    `json:"year"`

	AuthorID uint    `json:"author_id"`
	Author   *Author `json:"author,omitempty" gorm:"foreignKey:AuthorID"`

	PublisherID uint       `json:"publisher_id"`
	Publisher   *Publisher `json:"publisher,omitempty" gorm:"foreignKey:PublisherID"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Book) TableName() string {
	return "books"
}
