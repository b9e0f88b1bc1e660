package models

// Publisher repräsentiert einen Verlag, identifiziert über seinen Namen.
type Publisher struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Publisher) TableName() string {
	return "publishers"
}
