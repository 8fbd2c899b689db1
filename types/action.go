package types

// ActionInfo describes one invokable robot action. In registrations the ID
// is node-local; after flattening it is namespaced as "<prefix>/<id>".
type ActionInfo struct {
	ID      string `json:"action_id" bson:"action_id"`
	Name    string `json:"action_name" bson:"action_name"`
	Enabled bool   `json:"enabled" bson:"enabled"`
}

// ActionRegistration is a node's announcement of its action set. A node
// re-registering under the same prefix replaces its previous set.
type ActionRegistration struct {
	Prefix  string       `json:"node_prefix" bson:"node_prefix"`
	Actions []ActionInfo `json:"actions" bson:"actions"`
}

// Flatten returns the registration's actions with namespaced IDs,
// preserving registration order
func (r ActionRegistration) Flatten() []ActionInfo {
	flat := make([]ActionInfo, len(r.Actions))
	for i, a := range r.Actions {
		flat[i] = ActionInfo{
			ID:      r.Prefix + "/" + a.ID,
			Name:    a.Name,
			Enabled: a.Enabled,
		}
	}
	return flat
}
