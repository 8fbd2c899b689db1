package types

// Pose is the robot's estimated position and orientation
type Pose struct {
	X               float64 `json:"x" bson:"x"`
	Y               float64 `json:"y" bson:"y"`
	Heading         float64 `json:"heading" bson:"heading"`
	PosAccuracy     float64 `json:"pos_accuracy" bson:"pos_accuracy"`
	HeadingAccuracy float64 `json:"heading_accuracy" bson:"heading_accuracy"`
	HeadingValid    bool    `json:"heading_valid" bson:"heading_valid"`
}

// RobotState is the consolidated high-level robot status document
type RobotState struct {
	BatteryPercentage     float64 `json:"battery_percentage" bson:"battery_percentage"`
	GPSPercentage         float64 `json:"gps_percentage" bson:"gps_percentage"`
	CurrentState          string  `json:"current_state" bson:"current_state"`
	CurrentSubState       string  `json:"current_sub_state" bson:"current_sub_state"`
	CurrentActionProgress float64 `json:"current_action_progress" bson:"current_action_progress"`
	Emergency             bool    `json:"emergency" bson:"emergency"`
	IsCharging            bool    `json:"is_charging" bson:"is_charging"`
	Pose                  Pose    `json:"pose" bson:"pose"`
}

// VelocityCommand is a remote drive command: linear velocity vx and
// angular velocity vz
type VelocityCommand struct {
	VX float64 `json:"vx" bson:"vx"`
	VZ float64 `json:"vz" bson:"vz"`
}
