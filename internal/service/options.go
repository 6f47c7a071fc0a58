package service

// Options is the parameter bundle shared by every facade method. Only set
// fields reach the worker.
type Options struct {
	Credentials      *Credentials      `json:"credentials,omitempty"`
	ClientCustomerID string            `json:"clientCustomerId,omitempty"`
	ReportDefinition *ReportDefinition `json:"reportDefinition,omitempty"`

	// NumberResults bounds the result list. nil means unbounded; see
	// protocol.ParseBound for how other values are read.
	NumberResults any `json:"-"`

	// Extra carries worker parameters with no typed field.
	Extra map[string]any `json:"-"`
}

// Credentials are the OAuth and developer credentials for the ads API.
type Credentials struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	RefreshToken   string `json:"refresh_token"`
	DeveloperToken string `json:"developer_token"`
}

type ReportDefinition struct {
	ReportType string      `json:"reportType"`
	Period     *Period     `json:"periode,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
	Predicates []Predicate `json:"predicates,omitempty"`
}

// Period is an inclusive date range, formatted as the worker expects
// (YYYYMMDD or YYYY-MM-DD).
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Predicate struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}
