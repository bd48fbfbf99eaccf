// internal/models/notification.go
package models

// Notification is the operator event published when an application settles.
type Notification struct {
	ApplicationID string `json:"application_id"`
	Status        Status `json:"status"`
	Title         string `json:"title,omitempty"`
	Company       string `json:"company,omitempty"`
	MatchScore    *int   `json:"match_score,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Subject is used as the SNS message subject.
func (n Notification) Subject() string {
	subject := "Job application " + string(n.Status)
	if n.Company != "" {
		subject += ": " + n.Company
	}
	if len(subject) > 100 {
		subject = subject[:100]
	}
	return subject
}
