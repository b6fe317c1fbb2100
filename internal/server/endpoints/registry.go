package endpoints

import (
	"github.com/mwhitford/cabinet/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Intake endpoints
		&UploadIntakeEndpoint{},
		&IntakeStatusEndpoint{},
		&IntakeResetEndpoint{},
		&IntakeSkipEndpoint{},
		&IntakeReviewEndpoint{},
		&IntakeFieldsEndpoint{},
		&IntakeConfirmEndpoint{},
		&IntakeSaveEndpoint{},

		// Record endpoints
		&ListRecordsEndpoint{},
		&GetRecordEndpoint{},
		&DeleteRecordEndpoint{},

		// Settings
		&SettingsEndpoint{},
	}
}
