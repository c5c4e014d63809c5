package veyon

import "context"

// FeatureName is a feature's well-known name as reported by the WebAPI
type FeatureName string

// Feature names the panel acts on
const (
	// FeatureStartApp launches programs on the endpoint. Its arguments are
	// {"applications": ["<command line>", ...]}.
	FeatureStartApp FeatureName = "StartApp"
)

type featureDescriptor struct {
	Active    bool   `json:"active"`
	Name      string `json:"name"`
	ParentUID string `json:"parentUid"`
	UID       string `json:"uid"`
}

// Feature is a toggleable capability of an endpoint. The descriptor fields are a
// snapshot from the listing call; Status re-reads the live state.
type Feature struct {
	UID       string
	ParentUID string
	Name      FeatureName
	Active    bool

	session *Session
}

// Status reads whether the feature is currently active
func (f *Feature) Status(ctx context.Context) (bool, error) {
	return f.session.FeatureStatus(ctx, f.UID)
}

// SetStatus switches the feature. args is sent unvalidated.
func (f *Feature) SetStatus(ctx context.Context, active bool, args interface{}) error {
	return f.session.SetFeatureStatus(ctx, f.UID, active, args)
}

// Features is the result of Session.Features
type Features []*Feature

// ByUID returns the feature with the given uid
func (fs Features) ByUID(uid string) (*Feature, bool) {
	for _, f := range fs {
		if f.UID == uid {
			return f, true
		}
	}
	return nil, false
}

// ByName returns the first feature with the given name
func (fs Features) ByName(name FeatureName) (*Feature, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// StartAppArgs builds the SetStatus arguments for FeatureStartApp
func StartAppArgs(commandLines ...string) map[string]interface{} {
	return map[string]interface{}{"applications": commandLines}
}
