package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		action   string
		severity Severity
		category Category
	}{
		{"prescription_created", SeverityHigh, CategoryMedication},
		{"login_failed", SeverityCritical, CategorySecurity},
		{"document_upload", SeverityLow, CategoryGeneral},
		{"patient_record_view", SeverityMedium, CategoryAccess},
		{"medication_update", SeverityHigh, CategoryMedication},
		{"diagnosis_added", SeverityLow, CategoryClinical},
		{"user_registration", SeverityLow, CategoryRegistration},
		{"profile_edit", SeverityLow, CategoryModification},
		{"record_update", SeverityMedium, CategoryModification},
		{"record_delete", SeverityLow, CategoryDeletion},
		{"report_export", SeverityLow, CategoryDataExport},
		{"document_download", SeverityLow, CategoryDataExport},
		{"logout", SeverityLow, CategorySecurity},
		{"unauthorized_access_attempt", SeverityCritical, CategoryAccess},
		{"unauthorized_export", SeverityCritical, CategoryDataExport},
		{"clinical_data_breach", SeverityCritical, CategoryClinical},
		{"integrity_breach_detected", SeverityCritical, CategorySecurity},
		{"unauthorized", SeverityCritical, CategorySecurity},
		{"LOGIN_FAILED", SeverityCritical, CategorySecurity},
		{"something_else", SeverityLow, CategoryGeneral},
		{"", SeverityLow, CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			s, c := Classify(tt.action)
			assert.Equal(t, tt.severity, s)
			assert.Equal(t, tt.category, c)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		s, c := Classify("prescription_created")
		assert.Equal(t, SeverityHigh, s)
		assert.Equal(t, CategoryMedication, c)
	}
}
