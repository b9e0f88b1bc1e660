package models

// User repräsentiert einen Leser. Die ExternalID stammt aus den
// CSV-Quelldaten und ist vom Surrogat-Schlüssel id zu unterscheiden.
type User struct {
	ID         uint     `json:"id" gorm:"primaryKey"`
	ExternalID int64    `json:"external_id" gorm:"column:external_id;uniqueIndex;not null"`
	Age        *int     `json:"age,omitempty"`
	Address    *Address `json:"address,omitempty" gorm:"foreignKey:UserID"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (User) TableName() string {
	return "users"
}

// Address ist der abhängige 1:1-Datensatz eines Users und teilt sich
// dessen Surrogat-Schlüssel (user_id ist zugleich Primary Key).
type Address struct {
	UserID  uint    `json:"-" gorm:"column:user_id;primaryKey;autoIncrement:false"`
	City    *string `json:"city,omitempty"`
	Region  *string `json:"region,omitempty"`
	Country *string `json:"country,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Address) TableName() string {
	return "address"
}
