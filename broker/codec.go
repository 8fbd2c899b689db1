package broker

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/state"
	"github.com/raven-worx/xbot-monitoring/types"
)

// message is one MQTT publication ready to hand to the connection.
type message struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// buildMessages encodes the current cache document for one domain event.
// Registry-like domains get retained QoS 1 json+bson siblings; per-sensor
// data and robot state go out QoS 0 unretained. An absent document yields
// no messages.
func buildMessages(prefix string, st *state.GatewayState, ev state.Event) ([]message, error) {
	switch ev.Domain {
	case state.DomainSensorInfos:
		return documentPair(prefix, ev.Domain, st.Sensors(), true)

	case state.DomainSensorData:
		reading, ok := st.Reading(ev.SensorID)
		if !ok {
			return nil, nil
		}
		return sensorDataPair(prefix, reading)

	case state.DomainRobotState:
		rs, ok := st.RobotState()
		if !ok {
			return nil, nil
		}
		return documentPair(prefix, ev.Domain, rs, false)

	case state.DomainMap:
		m, ok := st.Map()
		if !ok {
			return nil, nil
		}
		return documentPair(prefix, ev.Domain, m, true)

	case state.DomainMapOverlay:
		overlay, ok := st.MapOverlay()
		if !ok {
			return nil, nil
		}
		return documentPair(prefix, ev.Domain, overlay, true)

	case state.DomainActions:
		return documentPair(prefix, ev.Domain, st.Actions(), true)
	}

	return nil, nil
}

// hasDocument reports whether a retained domain has anything worth
// replaying after a reconnect
func hasDocument(st *state.GatewayState, d state.Domain) bool {
	switch d {
	case state.DomainSensorInfos:
		return st.SensorCount() > 0
	case state.DomainMap:
		_, ok := st.Map()
		return ok
	case state.DomainMapOverlay:
		_, ok := st.MapOverlay()
		return ok
	case state.DomainActions:
		return len(st.Actions()) > 0
	}
	return false
}

// documentPair encodes one document as sibling json and bson messages.
// The bson side carries the document in the {"d": ...} envelope shared by
// every binary topic, object documents included.
func documentPair(prefix string, d state.Domain, doc any, retain bool) ([]message, error) {
	jsonPayload, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "documentPair", "encode json document")
	}
	bsonPayload, err := bson.Marshal(bson.M{"d": doc})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "documentPair", "encode bson document")
	}

	var qos byte
	if retain {
		qos = 1
	}
	base := prefix + "/" + d.String()
	return []message{
		{topic: base + "/json", payload: jsonPayload, qos: qos, retain: retain},
		{topic: base + "/bson", payload: bsonPayload, qos: qos, retain: retain},
	}, nil
}

// sensorDataPair encodes one reading: plain text on .../data, a BSON
// envelope on .../bson
func sensorDataPair(prefix string, r types.SensorReading) ([]message, error) {
	bsonPayload, err := bson.Marshal(bson.M{"d": r.Value.Any()})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "sensorDataPair", "encode bson value")
	}

	base := prefix + "/sensors/" + r.SensorID
	return []message{
		{topic: base + "/data", payload: []byte(r.Value.Text())},
		{topic: base + "/bson", payload: bsonPayload},
	}, nil
}

// decodeVelocity parses a teleop payload: a BSON document {vx, vz}
func decodeVelocity(payload []byte) (types.VelocityCommand, error) {
	var cmd types.VelocityCommand
	if err := bson.Unmarshal(payload, &cmd); err != nil {
		return types.VelocityCommand{}, errors.WrapInvalid(err,
			"Publisher", "decodeVelocity", "decode teleop payload")
	}
	return cmd, nil
}
