package models

// Author repräsentiert einen Buchautor. Der Name ist der natürliche
// Schlüssel; die id wird von der Sequenz authors_id_seq vergeben.
type Author struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Author) TableName() string {
	return "authors"
}
