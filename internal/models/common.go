package models

// PageMeta accompanies paginated responses
type PageMeta struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Pages int   `json:"pages"`
}
