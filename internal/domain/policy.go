package domain

type PolicyInput struct {
	Record TelemetryRecord `json:"record"`
	Source string          `json:"source,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}

// RejectionMessage picks the message shown to the submitter for a denial.
func (e PolicyEvaluation) RejectionMessage() string {
	for _, deny := range e.Result.Deny {
		if deny.Message != "" {
			return deny.Message
		}
	}
	return "Registro rejeitado pela política de ingestão"
}
