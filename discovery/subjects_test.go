package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensorIDFromAnnouncement(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"valid", "xbot.sensors.om_v_charge.info", "om_v_charge"},
		{"data channel", "xbot.sensors.om_v_charge.data", ""},
		{"wrong root", "other.sensors.om_v_charge.info", ""},
		{"fixed channel", "xbot.robot_state", ""},
		{"missing id", "xbot.sensors..info", ""},
		{"multi token id", "xbot.sensors.a.b.info", ""},
		{"bare stem", "xbot.sensors.", ""},
		{"suffix only", "xbot.sensors..info.info", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sensorIDFromAnnouncement(tt.subject))
		})
	}
}

func TestSubjectBuilders(t *testing.T) {
	assert.Equal(t, "xbot.sensors.om_v_charge.info", announcementSubject("om_v_charge"))
	assert.Equal(t, "xbot.sensors.om_v_charge.data", dataSubject("om_v_charge"))
	assert.Equal(t, "om_x", sensorIDFromAnnouncement(announcementSubject("om_x")))
}
