// README: Firebase Admin SDK initialisation for the Realtime Database client.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// NewFirebaseDatabase initialises the Admin SDK and returns an RTDB client.
// If databaseURL is empty it is derived from the project id, read from the
// service-account file when projectID is empty too.
func NewFirebaseDatabase(ctx context.Context, projectID, credentialsFile, databaseURL string) (*db.Client, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	if projectID == "" && credentialsFile != "" {
		id, err := parseProjectID(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		projectID = id
	}
	if databaseURL == "" {
		if projectID == "" {
			return nil, fmt.Errorf("firebase: project id or database url is required")
		}
		databaseURL = fmt.Sprintf("https://%s-default-rtdb.europe-west1.firebasedatabase.app", projectID)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return client, nil
}

// parseProjectID reads the service-account JSON and extracts the project_id.
func parseProjectID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &sa); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if sa.ProjectID == "" {
		return "", fmt.Errorf("project_id is empty in %s", path)
	}
	return sa.ProjectID, nil
}
