package usecase

import "github.com/mateusicomp/aqua-monitor/internal/domain"

// ValidateRecord is the structural gate in front of signing. Checks run in a
// fixed order so the same record always yields the same rejection.
func ValidateRecord(record domain.TelemetryRecord) error {
	if len(record.Measurements) == 0 {
		return domain.EmptyMeasurements()
	}
	required := []struct {
		name  string
		value string
	}{
		{"device_id", record.DeviceID},
		{"site_id", record.SiteID},
		{"version", record.Version},
		{"msg_type", record.MsgType},
	}
	for _, field := range required {
		if field.value == "" {
			return domain.MissingField(field.name)
		}
	}
	return nil
}
