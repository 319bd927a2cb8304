package dto

type ErrorResponse struct {
	Error string `json:"error"`
}

// DetailResponse mirrors the degraded-health body shape.
type DetailResponse struct {
	Detail interface{} `json:"detail"`
}
