package media

import "time"

// GalleryImage is one image of a paper gallery, keyed by (item, gallery, position).
type GalleryImage struct {
	ItemID   int64  `gorm:"primaryKey;autoIncrement:false" json:"paper_id"`
	Gallery  string `gorm:"primaryKey;type:varchar(16)" json:"gallery"`
	Position int    `gorm:"primaryKey;autoIncrement:false" json:"position"`
	Payload  string `gorm:"type:text;not null" json:"payload"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GalleryImage) TableName() string { return "gallery_images" }
