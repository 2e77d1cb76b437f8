package details

import "time"

// PaperDetail is the durable text row of a record; images live in gallery_images.
type PaperDetail struct {
	ItemID            int64  `gorm:"primaryKey;autoIncrement:false" json:"paper_id"`
	BackgroundContent string `gorm:"type:text" json:"background_content"`
	MainContent       string `gorm:"type:text" json:"main_content"`
	ConclusionContent string `gorm:"type:text" json:"conclusion_content"`
	LinkContent       string `gorm:"type:text" json:"link_content"`
	EditedAtMs        int64  `gorm:"not null;default:0" json:"edited_at_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaperDetail) TableName() string { return "paper_details" }
