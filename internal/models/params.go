package models

// ParametersFile is the document accepted by `log params --from-file`.
// Values may be any scalar; they are logged as strings.
type ParametersFile struct {
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}
