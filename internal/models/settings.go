package models

// UserSettings is the process-wide credential record.
type UserSettings struct {
	APIKey   string `json:"apiKey"`
	UserName string `json:"userName"`
}

// Configured reports whether a credential is present.
func (s *UserSettings) Configured() bool {
	return s != nil && s.APIKey != ""
}
