package audit

import "strings"

// Severity of an audit event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category of an audit event.
type Category string

const (
	CategoryAccess       Category = "access"
	CategoryClinical     Category = "clinical"
	CategoryMedication   Category = "medication"
	CategoryRegistration Category = "registration"
	CategoryModification Category = "modification"
	CategoryDeletion     Category = "deletion"
	CategoryDataExport   Category = "data_export"
	CategorySecurity     Category = "security"
	CategoryGeneral      Category = "general"
)

type severityRule struct {
	keywords []string
	severity Severity
}

type categoryRule struct {
	keywords []string
	category Category
}

var severityRules = []severityRule{
	{[]string{"failed", "unauthorized", "breach"}, SeverityCritical},
	{[]string{"prescription", "medication"}, SeverityHigh},
	{[]string{"view", "access", "update"}, SeverityMedium},
}

// Rule order is part of the contract: the first match wins, so
// unauthorized_access_attempt files under access and its critical severity
// carries the alert.
var categoryRules = []categoryRule{
	{[]string{"prescription", "medication"}, CategoryMedication},
	{[]string{"diagnosis", "treatment", "clinical", "vital", "health", "consultation"}, CategoryClinical},
	{[]string{"view", "access", "read"}, CategoryAccess},
	{[]string{"register", "registration", "signup"}, CategoryRegistration},
	{[]string{"update", "edit", "modify"}, CategoryModification},
	{[]string{"delete", "remove"}, CategoryDeletion},
	{[]string{"export", "download", "print"}, CategoryDataExport},
	{[]string{"login", "logout", "failed", "unauthorized", "breach", "password", "key", "token", "session"}, CategorySecurity},
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ClassifySeverity derives the severity of action.
func ClassifySeverity(action string) Severity {
	a := strings.ToLower(action)
	for _, r := range severityRules {
		if containsAny(a, r.keywords) {
			return r.severity
		}
	}
	return SeverityLow
}

// ClassifyCategory derives the category of action.
func ClassifyCategory(action string) Category {
	a := strings.ToLower(action)
	for _, r := range categoryRules {
		if containsAny(a, r.keywords) {
			return r.category
		}
	}
	return CategoryGeneral
}

// Classify returns both severity and category for action.
func Classify(action string) (Severity, Category) {
	return ClassifySeverity(action), ClassifyCategory(action)
}
