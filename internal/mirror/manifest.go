package mirror

import "encoding/json"

// marshalManifest renders the manifest document: a JSON object mapping
// description to blob download URL.
func marshalManifest(manifest map[string]string) (string, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
