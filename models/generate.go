package models

// Multipart form fields accepted by POST /generate.
const (
	GenerateFieldManualFile   = "manual_file"
	GenerateFieldObservations = "observations"
)

type GeneratePostResponse struct {
	Report string `json:"report"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Stage is the pipeline stage that failed, if the pipeline ran.
	Stage string `json:"stage,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
