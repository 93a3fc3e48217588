package model

import "time"

// University создаётся только сидером и далее не меняется.
type University struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// UniversityWithClasses: ответ GET /api/universities/{id}.
type UniversityWithClasses struct {
	University University `json:"university"`
	Classes    []Class    `json:"classes"`
}
