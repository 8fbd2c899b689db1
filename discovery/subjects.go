package discovery

import "strings"

const (
	// inventoryRoot is the wildcard tap that feeds the subject inventory.
	inventoryRoot = "xbot.>"

	sensorSubjectStem  = "xbot.sensors."
	announcementSuffix = ".info"
	dataSuffix         = ".data"
)

// sensorIDFromAnnouncement extracts the sensor id from an announcement
// subject of the form "xbot.sensors.<id>.info". Returns "" when the
// subject does not match. The id must be a single token.
func sensorIDFromAnnouncement(subject string) string {
	rest, ok := strings.CutPrefix(subject, sensorSubjectStem)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, announcementSuffix)
	if !ok || id == "" || strings.Contains(id, ".") {
		return ""
	}
	return id
}

// announcementSubject builds the announcement subject for a sensor id
func announcementSubject(id string) string {
	return sensorSubjectStem + id + announcementSuffix
}

// dataSubject builds the data subject for a sensor id
func dataSubject(id string) string {
	return sensorSubjectStem + id + dataSuffix
}
