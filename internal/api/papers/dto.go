package papers

import "paper-showcase/internal/domain/details"

type detailsResponse struct {
	Record   details.RecordJSON `json:"record"`
	EditedAt int64              `json:"editedAt,omitempty"`
	View     details.View       `json:"view"`
}

func newDetailsResponse(rec details.Record) detailsResponse {
	return detailsResponse{
		Record:   details.ToJSON(rec),
		EditedAt: rec.EditedAt,
		View:     details.Render(rec),
	}
}
